package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

type recordedWrite struct {
	op     string
	ref    store.Ref
	fields map[string]any
	at     time.Time
}

// recordingStore counts every write and can be told to fail some of them.
type recordingStore struct {
	store.Store
	clock clockwork.Clock

	mu         sync.Mutex
	writes     []recordedWrite
	failUpdate func(ref store.Ref) error
	failCommit error
	block      chan struct{}
	notify     chan recordedWrite
}

func newRecordingStore(t *testing.T, clock clockwork.Clock) (*recordingStore, *store.MemoryStore) {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewFakeClock()
	}
	mem := store.NewMemoryStore(store.WithClock(clock.Now))
	t.Cleanup(func() { _ = mem.Close() })
	return &recordingStore{Store: mem, clock: clock, notify: make(chan recordedWrite, 64)}, mem
}

func (r *recordingStore) record(op string, ref store.Ref, fields map[string]any) {
	w := recordedWrite{op: op, ref: ref, fields: fields, at: r.clock.Now()}
	r.mu.Lock()
	r.writes = append(r.writes, w)
	r.mu.Unlock()
	select {
	case r.notify <- w:
	default:
	}
}

func (r *recordingStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingStore) writesTo(collection string) []recordedWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedWrite
	for _, w := range r.writes {
		if w.ref.Collection == collection {
			out = append(out, w)
		}
	}
	return out
}

func (r *recordingStore) setFailUpdate(fn func(ref store.Ref) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdate = fn
}

func (r *recordingStore) setFailCommit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCommit = err
}

func (r *recordingStore) setBlock(ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = ch
}

func (r *recordingStore) Update(ctx context.Context, ref store.Ref, fields map[string]any) error {
	r.mu.Lock()
	fail := r.failUpdate
	block := r.block
	r.mu.Unlock()
	r.record("update", ref, fields)
	if block != nil {
		<-block
	}
	if fail != nil {
		if err := fail(ref); err != nil {
			return err
		}
	}
	return r.Store.Update(ctx, ref, fields)
}

func (r *recordingStore) Set(ctx context.Context, ref store.Ref, data map[string]any, opts ...store.SetOption) error {
	r.record("set", ref, data)
	return r.Store.Set(ctx, ref, data, opts...)
}

func (r *recordingStore) Create(ctx context.Context, collection string, data map[string]any) (store.Ref, error) {
	ref, err := r.Store.Create(ctx, collection, data)
	r.record("create", ref, data)
	return ref, err
}

func (r *recordingStore) Delete(ctx context.Context, ref store.Ref) error {
	r.record("delete", ref, nil)
	return r.Store.Delete(ctx, ref)
}

func (r *recordingStore) Batch() store.Batch {
	return &recordingBatch{Batch: r.Store.Batch(), parent: r}
}

type recordingBatch struct {
	store.Batch
	parent *recordingStore
}

func (b *recordingBatch) Commit(ctx context.Context) error {
	b.parent.mu.Lock()
	fail := b.parent.failCommit
	b.parent.mu.Unlock()
	b.parent.record("commit", store.Ref{Collection: "batch"}, nil)
	if fail != nil {
		return fail
	}
	return b.Batch.Commit(ctx)
}

func seedBook(t *testing.T, s store.Store, book domain.Book, chapters ...domain.Chapter) {
	t.Helper()
	ctx := context.Background()
	if book.Status == "" {
		book.Status = domain.StatusDraft
	}
	if err := s.Set(ctx, bookRef(book.ID), map[string]any{
		"title":       book.Title,
		"authorId":    book.AuthorID,
		"status":      string(book.Status),
		"coverImage":  book.CoverImage,
		"description": book.Description,
		"createdAt":   store.ServerTimestamp,
		"updatedAt":   store.ServerTimestamp,
	}); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	for _, c := range chapters {
		if err := s.Set(ctx, chapterRef(c.ID), map[string]any{
			"bookId":    book.ID,
			"title":     c.Title,
			"content":   c.Content,
			"order":     c.Order,
			"createdAt": store.ServerTimestamp,
			"updatedAt": store.ServerTimestamp,
		}); err != nil {
			t.Fatalf("seed chapter %s: %v", c.ID, err)
		}
	}
}

func abcChapters() []domain.Chapter {
	return []domain.Chapter{
		{ID: "a", Title: "A", Content: "<p>alpha</p>", Order: 1},
		{ID: "b", Title: "B", Content: "<p>beta</p>", Order: 2},
		{ID: "c", Title: "C", Content: "<p>gamma</p>", Order: 3},
	}
}

func titles(chs []domain.Chapter) []string {
	out := make([]string, 0, len(chs))
	for _, c := range chs {
		out = append(out, c.Title)
	}
	return out
}

func orders(chs []domain.Chapter) []int {
	out := make([]int, 0, len(chs))
	for _, c := range chs {
		out = append(out, c.Order)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextWrite(t *testing.T, r *recordingStore) recordedWrite {
	t.Helper()
	select {
	case w := <-r.notify:
		return w
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a write")
	}
	return recordedWrite{}
}

func strPtr(s string) *string {
	return &s
}
