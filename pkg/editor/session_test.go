package editor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

func TestOpenRejectsNonOwner(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	_, err := Open(context.Background(), SessionConfig{Store: rec, Identity: domain.Identity{UserID: "u2"}, BookID: "b1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestOpenMissingBook(t *testing.T) {
	rec, _ := newRecordingStore(t, nil)
	_, err := Open(context.Background(), SessionConfig{Store: rec, Identity: domain.Identity{UserID: "u1"}, BookID: "nope"})
	if Classify(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionSelectsFirstChapter(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", Title: "T"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	v := s.View()
	if v.ActiveChapterID != "a" || v.Draft.ChapterTitle != "A" {
		t.Fatalf("expected first chapter active, got %+v", v.Draft)
	}
	if v.WordCount != 3 || v.State != "clean" {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestSessionEchoReachesOtherTab(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	first := openTestSession(t, rec, nil, nil)
	second := openTestSession(t, rec, nil, nil)

	if err := first.MoveChapter(context.Background(), 2, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "reordered chapters in second tab", func() bool {
		return fmt.Sprint(titles(second.Chapters().Chapters())) == "[C A B]"
	})
	if got := orders(second.Chapters().Chapters()); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("expected orders [1 2 3], got %v", got)
	}

	if err := first.Edit(Edit{BookTitle: strPtr("Renamed")}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := first.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	waitFor(t, "renamed book in second tab", func() bool {
		return second.View().Book.Title == "Renamed"
	})
}

func TestSessionSelectFlushesDirtyDraft(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	ctx := context.Background()

	if err := s.Edit(Edit{ChapterContent: strPtr("<p>edited a</p>")}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := s.Select(ctx, "b"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if s.View().Draft.ChapterID != "b" {
		t.Fatalf("expected b active")
	}
	chapters, err := LoadChapters(ctx, mem, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if chapters[0].Content != "<p>edited a</p>" {
		t.Fatalf("expected edits to a saved before switching, got %q", chapters[0].Content)
	}
}

func TestSessionSelectStaysWhenFlushFails(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	rec.setFailUpdate(func(store.Ref) error { return store.ErrUnavailable })

	if err := s.Edit(Edit{ChapterTitle: strPtr("A!")}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := s.Select(context.Background(), "c"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected save failure, got %v", err)
	}
	v := s.View()
	if v.ActiveChapterID != "a" || v.Draft.ChapterTitle != "A!" {
		t.Fatalf("expected to stay on a with edits kept, got %+v", v.Draft)
	}
	if v.State != StateSaveFailed.String() || v.LastError == "" {
		t.Fatalf("expected failed state in view, got %+v", v)
	}
}

func TestSessionInsertAndDeleteChapter(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	ctx := context.Background()

	ch, err := s.InsertChapter(ctx, "D")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.View().ActiveChapterID != ch.ID || ch.Order != 4 {
		t.Fatalf("expected new chapter active with order 4, got %+v", ch)
	}
	if err := s.DeleteChapter(ctx, ch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.View().ActiveChapterID != "a" {
		t.Fatalf("expected first remaining chapter active, got %q", s.View().ActiveChapterID)
	}
}

func TestSessionClosedRejectsEdits(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	s := openTestSession(t, rec, nil, nil)
	s.Close()
	if err := s.Edit(Edit{BookTitle: strPtr("x")}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if Classify(ErrSessionClosed) != KindConflict {
		t.Fatalf("expected conflict kind")
	}
}
