package editor

import (
	"context"
	"errors"
	"testing"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

func seedReviews(t *testing.T, s store.Store, bookID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.Set(context.Background(), store.Doc(domain.CollectionReviews, id), map[string]any{
			"bookId":   bookID,
			"authorId": "reader",
			"rating":   4,
			"text":     "good",
		}); err != nil {
			t.Fatalf("seed review: %v", err)
		}
	}
}

func countDocs(t *testing.T, s store.Store, collection string) int {
	t.Helper()
	docs, err := s.Query(context.Background(), store.Query{Collection: collection})
	if err != nil {
		t.Fatalf("count %s: %v", collection, err)
	}
	return len(docs)
}

func TestDeleteBookRemovesChaptersReviewsAndBook(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", CoverImage: "covers/b1.png"}, abcChapters()...)
	seedReviews(t, mem, "b1", "r1", "r2")
	seedBook(t, mem, domain.Book{ID: "other", AuthorID: "u2"}, domain.Chapter{ID: "x", Title: "X", Order: 1})
	seedReviews(t, mem, "other", "r3")

	report, err := DeleteBook(context.Background(), rec, domain.Identity{UserID: "u1"}, "b1")
	if err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if report.Chapters != 3 || report.Reviews != 2 || report.Documents() != 6 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.CoverImage != "covers/b1.png" {
		t.Fatalf("expected cover in report, got %q", report.CoverImage)
	}
	if rec.writeCount() != 1 {
		t.Fatalf("expected a single batch commit, got %d writes", rec.writeCount())
	}
	if n := countDocs(t, mem, domain.CollectionChapters); n != 1 {
		t.Fatalf("expected only the other book's chapter left, got %d", n)
	}
	if n := countDocs(t, mem, domain.CollectionReviews); n != 1 {
		t.Fatalf("expected only the other book's review left, got %d", n)
	}
	if _, err := mem.Get(context.Background(), bookRef("b1")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected book gone, got %v", err)
	}
}

func TestDeleteBookFailureLeavesEverything(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	seedReviews(t, mem, "b1", "r1")
	rec.setFailCommit(store.ErrUnavailable)

	if _, err := DeleteBook(context.Background(), rec, domain.Identity{UserID: "u1"}, "b1"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if n := countDocs(t, mem, domain.CollectionChapters); n != 3 {
		t.Fatalf("expected 3 chapters intact, got %d", n)
	}
	if n := countDocs(t, mem, domain.CollectionReviews); n != 1 {
		t.Fatalf("expected review intact, got %d", n)
	}
	if _, err := mem.Get(context.Background(), bookRef("b1")); err != nil {
		t.Fatalf("expected book intact, got %v", err)
	}
}

func TestDeleteBookRejectsNonOwner(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	_, err := DeleteBook(context.Background(), rec, domain.Identity{UserID: "intruder"}, "b1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if Classify(err) != KindPermission {
		t.Fatalf("expected permission kind, got %s", Classify(err))
	}
	if rec.writeCount() != 0 {
		t.Fatalf("expected no writes, got %d", rec.writeCount())
	}
}

func TestCreateBookStartsWithOneChapter(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	book, err := CreateBook(context.Background(), rec, domain.Identity{UserID: "u1"}, "  ")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Title != "Untitled" || book.Status != domain.StatusDraft || book.AuthorID != "u1" {
		t.Fatalf("unexpected book: %+v", book)
	}
	chapters, err := LoadChapters(context.Background(), mem, book.ID)
	if err != nil {
		t.Fatalf("load chapters: %v", err)
	}
	if len(chapters) != 1 || chapters[0].Order != 1 {
		t.Fatalf("expected a single first chapter, got %+v", chapters)
	}
	if _, err := CreateBook(context.Background(), rec, domain.Identity{}, "x"); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}
