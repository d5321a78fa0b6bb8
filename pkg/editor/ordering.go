package editor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

// NextOrder returns the order for a chapter appended after chs.
func NextOrder(chs []domain.Chapter) int {
	highest := 0
	for _, c := range chs {
		if c.Order > highest {
			highest = c.Order
		}
	}
	return highest + 1
}

// Reorder moves the chapter at index from to index to and renumbers every
// chapter to position+1. The input slice is not modified.
func Reorder(chs []domain.Chapter, from, to int) ([]domain.Chapter, error) {
	if from < 0 || from >= len(chs) || to < 0 || to >= len(chs) {
		return nil, fmt.Errorf("%w: from=%d to=%d len=%d", ErrInvalidMove, from, to, len(chs))
	}
	out := make([]domain.Chapter, 0, len(chs))
	moved := chs[from]
	for i, c := range chs {
		if i != from {
			out = append(out, c)
		}
	}
	out = append(out[:to], append([]domain.Chapter{moved}, out[to:]...)...)
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}

type orderChange struct {
	id    string
	order int
}

// changedOrders lists the chapters of after whose order differs from before,
// in sequence order.
func changedOrders(before, after []domain.Chapter) []orderChange {
	prev := make(map[string]int, len(before))
	for _, c := range before {
		prev[c.ID] = c.Order
	}
	var out []orderChange
	for _, c := range after {
		if old, ok := prev[c.ID]; !ok || old != c.Order {
			out = append(out, orderChange{id: c.ID, order: c.Order})
		}
	}
	return out
}

// ChapterList is the ordered chapter sequence of one book. It keeps the last
// confirmed sequence from the store apart from the optimistic local view.
type ChapterList struct {
	store  store.Store
	bookID string
	logger *slog.Logger

	// opMu serializes structural writes from this session.
	opMu sync.Mutex

	mu        sync.Mutex
	confirmed []domain.Chapter
	view      []domain.Chapter
	activeID  string
}

func NewChapterList(s store.Store, bookID string, chapters []domain.Chapter, logger *slog.Logger) *ChapterList {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ChapterList{store: s, bookID: bookID, logger: logger}
	l.ApplySnapshot(chapters)
	return l
}

// Chapters returns the current view sorted by order.
func (l *ChapterList) Chapters() []domain.Chapter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneChapters(l.view)
}

func (l *ChapterList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.view)
}

// Active returns the selected chapter, if any.
func (l *ChapterList) Active() (domain.Chapter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := indexOf(l.view, l.activeID)
	if idx < 0 {
		return domain.Chapter{}, false
	}
	return l.view[idx], true
}

func (l *ChapterList) Find(id string) (domain.Chapter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := indexOf(l.view, id)
	if idx < 0 {
		return domain.Chapter{}, false
	}
	return l.view[idx], true
}

func (l *ChapterList) SetActive(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if indexOf(l.view, id) < 0 {
		return ErrChapterNotFound
	}
	l.activeID = id
	return nil
}

// ApplySnapshot replaces both the confirmed sequence and the local view with
// the store's state. It reports whether the active chapter changed as a result.
func (l *ChapterList) ApplySnapshot(chapters []domain.Chapter) bool {
	sorted := cloneChapters(chapters)
	sortChapters(sorted)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = sorted
	l.view = cloneChapters(sorted)
	prev := l.activeID
	if indexOf(l.view, l.activeID) < 0 {
		l.activeID = firstID(l.view)
	}
	return prev != l.activeID
}

// Insert appends a chapter after the current last one.
func (l *ChapterList) Insert(ctx context.Context, title string) (domain.Chapter, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	order := NextOrder(l.view)
	l.mu.Unlock()

	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Chapter %d", order)
	}
	ref, err := l.store.Create(ctx, domain.CollectionChapters, map[string]any{
		"bookId":    l.bookID,
		"title":     title,
		"content":   "",
		"order":     order,
		"createdAt": store.ServerTimestamp,
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("insert chapter: %w", err)
	}
	ch := domain.Chapter{ID: ref.ID, BookID: l.bookID, Title: title, Order: order}
	if doc, err := l.store.Get(ctx, ref); err == nil {
		if stored, err := DecodeChapter(doc); err == nil {
			ch = stored
		}
	}

	l.mu.Lock()
	// the subscription echo may already have added it
	if indexOf(l.view, ch.ID) < 0 {
		l.view = append(l.view, ch)
		sortChapters(l.view)
	}
	if indexOf(l.confirmed, ch.ID) < 0 {
		l.confirmed = append(l.confirmed, ch)
		sortChapters(l.confirmed)
	}
	l.mu.Unlock()
	return ch, nil
}

// Move applies a reorder to the local view at once and persists every changed
// order in one batch. On failure the view reverts to the confirmed sequence.
func (l *ChapterList) Move(ctx context.Context, from, to int) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	next, err := Reorder(l.view, from, to)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if from == to {
		l.mu.Unlock()
		return nil
	}
	changes := changedOrders(l.view, next)
	l.view = next
	l.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	b := l.store.Batch()
	for _, c := range changes {
		b.Update(chapterRef(c.id), map[string]any{
			"order":     c.order,
			"updatedAt": store.ServerTimestamp,
		})
	}
	if err := b.Commit(ctx); err != nil {
		l.mu.Lock()
		l.view = cloneChapters(l.confirmed)
		l.mu.Unlock()
		l.logger.Warn("chapter reorder reverted", "book_id", l.bookID, "from", from, "to", to, "err", err)
		return fmt.Errorf("reorder chapters: %w", err)
	}

	l.mu.Lock()
	l.confirmed = cloneChapters(next)
	l.mu.Unlock()
	return nil
}

// Delete removes one chapter. The last remaining chapter cannot be deleted.
func (l *ChapterList) Delete(ctx context.Context, id string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if indexOf(l.view, id) < 0 {
		l.mu.Unlock()
		return ErrChapterNotFound
	}
	if len(l.view) <= 1 {
		l.mu.Unlock()
		return ErrMinimumChapterCount
	}
	l.mu.Unlock()

	if err := l.store.Delete(ctx, chapterRef(id)); err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.view = removeChapter(l.view, id)
	l.confirmed = removeChapter(l.confirmed, id)
	if l.activeID == id || indexOf(l.view, l.activeID) < 0 {
		l.activeID = firstID(l.view)
	}
	return nil
}

func indexOf(chs []domain.Chapter, id string) int {
	if id == "" {
		return -1
	}
	for i, c := range chs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func firstID(chs []domain.Chapter) string {
	if len(chs) == 0 {
		return ""
	}
	return chs[0].ID
}

func removeChapter(chs []domain.Chapter, id string) []domain.Chapter {
	out := make([]domain.Chapter, 0, len(chs))
	for _, c := range chs {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func cloneChapters(chs []domain.Chapter) []domain.Chapter {
	out := make([]domain.Chapter, len(chs))
	copy(out, chs)
	return out
}
