package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

type SessionConfig struct {
	ID          string
	Store       store.Store
	Identity    domain.Identity
	BookID      string
	Autosave    bool
	Debounce    time.Duration
	SaveTimeout time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Notifier    PublishNotifier
	OnSaved     func(prev, saved Fields)
}

// Session is one author's editing session on one book. It owns the chapter
// list and the draft and keeps both in step with the store's snapshots.
type Session struct {
	id       string
	store    store.Store
	identity domain.Identity
	bookID   string
	logger   *slog.Logger
	notifier PublishNotifier

	chapters *ChapterList
	draft    *Draft

	mu      sync.Mutex
	book    domain.Book
	removed bool
	closed  bool

	bookSub    *store.Subscription
	chapterSub *store.Subscription
	stop       context.CancelFunc
	done       chan struct{}
}

// View is a point-in-time picture of a session for the client.
type View struct {
	SessionID       string           `json:"sessionId"`
	Book            domain.Book      `json:"book"`
	Chapters        []domain.Chapter `json:"chapters"`
	ActiveChapterID string           `json:"activeChapterId"`
	Draft           Fields           `json:"draft"`
	State           string           `json:"state"`
	Autosave        bool             `json:"autosave"`
	LastError       string           `json:"lastError,omitempty"`
	WordCount       int              `json:"wordCount"`
	Removed         bool             `json:"removed,omitempty"`
}

// Open starts an editing session. Only the book's author may open one.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("editor: store is required")
	}
	if cfg.ID == "" {
		cfg.ID = store.NewID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("book_id", cfg.BookID, "session_id", cfg.ID)

	book, err := LoadOwnedBook(ctx, cfg.Store, cfg.Identity, cfg.BookID)
	if err != nil {
		return nil, err
	}
	chapters, err := LoadChapters(ctx, cfg.Store, cfg.BookID)
	if err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}
	list := NewChapterList(cfg.Store, cfg.BookID, chapters, logger)
	active, _ := list.Active()

	s := &Session{
		id:       cfg.ID,
		store:    cfg.Store,
		identity: cfg.Identity,
		bookID:   cfg.BookID,
		logger:   logger,
		notifier: cfg.Notifier,
		chapters: list,
		book:     book,
		draft: NewDraft(DraftConfig{
			Store:       cfg.Store,
			BookID:      cfg.BookID,
			Initial:     fieldsFor(book, active),
			Autosave:    cfg.Autosave,
			Debounce:    cfg.Debounce,
			SaveTimeout: cfg.SaveTimeout,
			Clock:       cfg.Clock,
			Logger:      logger,
			OnSaved:     cfg.OnSaved,
		}),
		done: make(chan struct{}),
	}

	// subscriptions outlive the request that opened the session
	subCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop
	s.bookSub, err = cfg.Store.Subscribe(subCtx, store.Query{Collection: domain.CollectionBooks, ID: cfg.BookID})
	if err != nil {
		stop()
		return nil, fmt.Errorf("subscribe book: %w", err)
	}
	s.chapterSub, err = cfg.Store.Subscribe(subCtx, chaptersQuery(cfg.BookID))
	if err != nil {
		s.bookSub.Close()
		stop()
		return nil, fmt.Errorf("subscribe chapters: %w", err)
	}
	// apply the initial snapshots before returning so the first view is settled
	for _, c := range []<-chan store.Snapshot{s.bookSub.C, s.chapterSub.C} {
		select {
		case snap, ok := <-c:
			if !ok {
				continue
			}
			if c == s.bookSub.C {
				s.applyBookSnapshot(snap)
			} else {
				s.applyChapterSnapshot(snap)
			}
		case <-ctx.Done():
			s.chapterSub.Close()
			s.bookSub.Close()
			stop()
			return nil, ctx.Err()
		}
	}
	go s.reconcile(subCtx)
	logger.Info("editing session opened", "autosave", cfg.Autosave)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) BookID() string {
	return s.bookID
}

func (s *Session) OwnerID() string {
	return s.identity.UserID
}

// Book returns the last book state seen from the store.
func (s *Session) Book() domain.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book
}

func (s *Session) setBook(b domain.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book = b
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.removed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) Draft() *Draft {
	return s.draft
}

func (s *Session) Chapters() *ChapterList {
	return s.chapters
}

func (s *Session) Edit(e Edit) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.draft.Edit(e)
}

func (s *Session) Save(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.draft.Save(ctx)
}

func (s *Session) SetAutosave(on bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.draft.SetAutosave(on)
	return nil
}

// Select makes another chapter active. Unsaved edits are saved first; if that
// save fails the current chapter stays active.
func (s *Session) Select(ctx context.Context, chapterID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ch, ok := s.chapters.Find(chapterID)
	if !ok {
		return ErrChapterNotFound
	}
	if s.draft.State() != StateClean {
		if err := s.draft.Flush(ctx); err != nil {
			return fmt.Errorf("save before switching chapter: %w", err)
		}
	}
	if err := s.chapters.SetActive(chapterID); err != nil {
		return err
	}
	if latest, ok := s.chapters.Find(chapterID); ok {
		ch = latest
	}
	s.draft.LoadChapter(ch)
	return nil
}

// InsertChapter appends a chapter and makes it active.
func (s *Session) InsertChapter(ctx context.Context, title string) (domain.Chapter, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Chapter{}, err
	}
	ch, err := s.chapters.Insert(ctx, title)
	if err != nil {
		return domain.Chapter{}, err
	}
	if err := s.Select(ctx, ch.ID); err != nil {
		return ch, err
	}
	return ch, nil
}

func (s *Session) MoveChapter(ctx context.Context, from, to int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.chapters.Move(ctx, from, to)
}

// DeleteChapter removes a chapter. When it was active the first remaining
// chapter is loaded into the draft.
func (s *Session) DeleteChapter(ctx context.Context, chapterID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	wasActive := s.draft.Fields().ChapterID == chapterID
	if err := s.chapters.Delete(ctx, chapterID); err != nil {
		return err
	}
	if wasActive {
		next, _ := s.chapters.Active()
		s.draft.LoadChapter(next)
	}
	return nil
}

func (s *Session) View() View {
	s.mu.Lock()
	book := s.book
	removed := s.removed
	s.mu.Unlock()

	fields := s.draft.Fields()
	book.Title = fields.BookTitle
	book.CoverImage = fields.CoverImage
	book.Description = fields.Description
	chapters := s.chapters.Chapters()
	words := 0
	for i := range chapters {
		if chapters[i].ID == fields.ChapterID {
			chapters[i].Title = fields.ChapterTitle
			chapters[i].Content = fields.ChapterContent
		}
		words += WordCount(chapters[i].Content)
	}
	v := View{
		SessionID:       s.id,
		Book:            book,
		Chapters:        chapters,
		ActiveChapterID: fields.ChapterID,
		Draft:           fields,
		State:           s.draft.State().String(),
		Autosave:        s.draft.Autosave(),
		WordCount:       words,
		Removed:         removed,
	}
	if err := s.draft.LastError(); err != nil {
		v.LastError = err.Error()
	}
	return v
}

// Close unsubscribes and drops the pending autosave. A save already in flight
// is left to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.draft.Close()
	s.stop()
	s.bookSub.Close()
	s.chapterSub.Close()
	<-s.done
	s.logger.Info("editing session closed")
}

// reconcile applies store snapshots as authoritative state.
func (s *Session) reconcile(ctx context.Context) {
	defer close(s.done)
	bookC := s.bookSub.C
	chapterC := s.chapterSub.C
	for bookC != nil || chapterC != nil {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-bookC:
			if !ok {
				bookC = nil
				continue
			}
			s.applyBookSnapshot(snap)
		case snap, ok := <-chapterC:
			if !ok {
				chapterC = nil
				continue
			}
			s.applyChapterSnapshot(snap)
		}
	}
}

func (s *Session) applyBookSnapshot(snap store.Snapshot) {
	if snap.Err != nil {
		s.logger.Warn("book snapshot failed", "err", snap.Err)
		return
	}
	if len(snap.Documents) == 0 {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		s.draft.Close()
		s.logger.Info("book removed while session open")
		return
	}
	book, err := DecodeBook(snap.Documents[0])
	if err != nil {
		s.logger.Warn("decode book snapshot", "err", err)
		return
	}
	s.setBook(book)
	s.draft.ApplyRemoteBook(book)
}

func (s *Session) applyChapterSnapshot(snap store.Snapshot) {
	if snap.Err != nil {
		s.logger.Warn("chapter snapshot failed", "err", snap.Err)
		return
	}
	chapters, err := decodeChapters(snap.Documents)
	if err != nil {
		s.logger.Warn("decode chapter snapshot", "err", err)
		return
	}
	if s.chapters.ApplySnapshot(chapters) {
		active, _ := s.chapters.Active()
		s.draft.LoadChapter(active)
		return
	}
	if active, ok := s.chapters.Active(); ok {
		s.draft.ApplyRemoteChapter(active)
	}
}
