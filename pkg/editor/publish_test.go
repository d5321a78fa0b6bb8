package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

type capturingNotifier struct {
	mu    sync.Mutex
	books []domain.Book
}

func (n *capturingNotifier) NotifyPublished(_ context.Context, book domain.Book) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.books = append(n.books, book)
	return nil
}

func openTestSession(t *testing.T, rec *recordingStore, clock clockwork.Clock, notifier PublishNotifier) *Session {
	t.Helper()
	s, err := Open(context.Background(), SessionConfig{
		Store:    rec,
		Identity: domain.Identity{UserID: "u1"},
		BookID:   "b1",
		Debounce: time.Second,
		Clock:    clock,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCheckPublishable(t *testing.T) {
	chapters := []domain.Chapter{{ID: "c1", Content: "<p>  </p>"}, {ID: "c2", Content: "<p>words</p>"}}
	if err := CheckPublishable(domain.Book{CoverImage: ""}, chapters); !errors.Is(err, ErrMissingCoverImage) {
		t.Fatalf("expected ErrMissingCoverImage, got %v", err)
	}
	empty := []domain.Chapter{{ID: "c1", Content: "<p><br></p>"}}
	err := CheckPublishable(domain.Book{CoverImage: "https://img/cover.png"}, empty)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if Classify(err) != KindValidation {
		t.Fatalf("expected validation kind, got %s", Classify(err))
	}
	if err := CheckPublishable(domain.Book{CoverImage: "https://img/cover.png"}, chapters); err != nil {
		t.Fatalf("expected publishable, got %v", err)
	}
}

func TestPublishWithoutCoverWritesNothing(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", Title: "No cover"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)

	_, err := s.Publish(context.Background())
	if !errors.Is(err, ErrMissingCoverImage) {
		t.Fatalf("expected ErrMissingCoverImage, got %v", err)
	}
	if rec.writeCount() != 0 {
		t.Fatalf("expected zero writes, got %d", rec.writeCount())
	}
	book, err := LoadBook(context.Background(), mem, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if book.Status != domain.StatusDraft {
		t.Fatalf("expected status to remain draft, got %s", book.Status)
	}
}

func TestPublishSavesDraftThenFlipsStatus(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", Title: "Draft"}, abcChapters()...)
	notifier := &capturingNotifier{}
	s := openTestSession(t, rec, nil, notifier)

	if err := s.Edit(Edit{CoverImage: strPtr("https://img/cover.png"), ChapterContent: strPtr("<p>rewritten</p>")}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	book, err := s.Publish(context.Background())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if book.Status != domain.StatusPublished || book.CoverImage != "https://img/cover.png" {
		t.Fatalf("unexpected published book: %+v", book)
	}
	books := rec.writesTo(domain.CollectionBooks)
	if len(books) != 2 {
		t.Fatalf("expected draft save then status write, got %d book writes", len(books))
	}
	if books[0].fields["coverImage"] != "https://img/cover.png" || books[1].fields["status"] != "published" {
		t.Fatalf("writes out of order: %+v", books)
	}
	chapters, err := LoadChapters(context.Background(), mem, "b1")
	if err != nil {
		t.Fatalf("load chapters: %v", err)
	}
	if chapters[0].Content != "<p>rewritten</p>" {
		t.Fatalf("expected draft content saved before publish, got %q", chapters[0].Content)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.books) != 1 || notifier.books[0].ID != "b1" {
		t.Fatalf("expected one publish notification, got %+v", notifier.books)
	}
}

func TestPublishAbortsWhenDraftSaveFails(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", CoverImage: "https://img/c.png"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	rec.setFailUpdate(func(ref store.Ref) error {
		if ref.Collection == domain.CollectionChapters {
			return store.ErrUnavailable
		}
		return nil
	})

	if _, err := s.Publish(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected publish to abort on save failure, got %v", err)
	}
	book, err := LoadBook(context.Background(), mem, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if book.Status != domain.StatusDraft {
		t.Fatalf("expected status to remain draft, got %s", book.Status)
	}
	for _, w := range rec.writesTo(domain.CollectionBooks) {
		if _, ok := w.fields["status"]; ok {
			t.Fatalf("status write attempted after failed save")
		}
	}
}

func TestRepublishBumpsUpdatedAt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec, mem := newRecordingStore(t, clock)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", CoverImage: "https://img/c.png"}, abcChapters()...)
	s := openTestSession(t, rec, clock, nil)
	ctx := context.Background()

	first, err := s.Publish(ctx)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := s.Publish(ctx)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if second.Status != domain.StatusPublished {
		t.Fatalf("expected published, got %s", second.Status)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updatedAt to move forward, got %v then %v", first.UpdatedAt, second.UpdatedAt)
	}
}
