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

func TestReorderMovesLastChapterToFront(t *testing.T) {
	got, err := Reorder(abcChapters(), 2, 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if want := []string{"C", "A", "B"}; !reflect.DeepEqual(titles(got), want) {
		t.Fatalf("expected %v, got %v", want, titles(got))
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(orders(got), want) {
		t.Fatalf("expected orders %v, got %v", want, orders(got))
	}
}

func TestReorderRejectsOutOfRange(t *testing.T) {
	if _, err := Reorder(abcChapters(), 0, 3); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove, got %v", err)
	}
}

func TestReorderDoesNotModifyInput(t *testing.T) {
	in := abcChapters()
	if _, err := Reorder(in, 0, 2); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(titles(in), want) {
		t.Fatalf("input mutated: %v", titles(in))
	}
}

func TestNextOrderAfterGaps(t *testing.T) {
	if got := NextOrder(nil); got != 1 {
		t.Fatalf("expected 1 for empty book, got %d", got)
	}
	chs := []domain.Chapter{{ID: "x", Order: 1}, {ID: "y", Order: 5}}
	if got := NextOrder(chs); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
}

func TestChapterListMovePersistsOneBatch(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1", Title: "Book"}, abcChapters()...)
	ctx := context.Background()
	chapters, err := LoadChapters(ctx, mem, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	list := NewChapterList(rec, "b1", chapters, nil)

	if err := list.Move(ctx, 2, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if rec.writeCount() != 1 {
		t.Fatalf("expected one batch commit, got %d writes", rec.writeCount())
	}
	stored, err := LoadChapters(ctx, mem, "b1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if want := []string{"C", "A", "B"}; !reflect.DeepEqual(titles(stored), want) {
		t.Fatalf("expected stored order %v, got %v", want, titles(stored))
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(orders(stored), want) {
		t.Fatalf("expected stored orders %v, got %v", want, orders(stored))
	}
}

func TestChapterListMoveSameIndexIsNoop(t *testing.T) {
	rec, _ := newRecordingStore(t, nil)
	list := NewChapterList(rec, "b1", abcChapters(), nil)
	if err := list.Move(context.Background(), 1, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if rec.writeCount() != 0 {
		t.Fatalf("expected no writes, got %d", rec.writeCount())
	}
}

func TestChapterListMoveRevertsOnBatchFailure(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	list := NewChapterList(rec, "b1", abcChapters(), nil)
	rec.setFailCommit(store.ErrUnavailable)

	err := list.Move(context.Background(), 2, 0)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if Classify(err) != KindTransient {
		t.Fatalf("expected transient kind, got %s", Classify(err))
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(titles(list.Chapters()), want) {
		t.Fatalf("expected view reverted to %v, got %v", want, titles(list.Chapters()))
	}
}

func TestChapterListDeleteOnlyChapterRejected(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	only := domain.Chapter{ID: "solo", Title: "Only", Order: 1}
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, only)
	list := NewChapterList(rec, "b1", []domain.Chapter{only}, nil)

	err := list.Delete(context.Background(), "solo")
	if !errors.Is(err, ErrMinimumChapterCount) {
		t.Fatalf("expected ErrMinimumChapterCount, got %v", err)
	}
	if rec.writeCount() != 0 {
		t.Fatalf("expected no writes, got %d", rec.writeCount())
	}
	stored, err := LoadChapters(context.Background(), mem, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected chapter count to stay 1, got %d", len(stored))
	}
}

func TestChapterListDeleteActiveSelectsFirstRemaining(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	list := NewChapterList(rec, "b1", abcChapters(), nil)
	if err := list.SetActive("a"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := list.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	active, ok := list.Active()
	if !ok || active.ID != "b" {
		t.Fatalf("expected b to become active, got %+v (ok=%v)", active, ok)
	}
}

func TestChapterListInsertSortsLast(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	list := NewChapterList(rec, "b1", abcChapters(), nil)
	ch, err := list.Insert(context.Background(), "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ch.Order != 4 || ch.Title != "Chapter 4" {
		t.Fatalf("unexpected chapter: %+v", ch)
	}
	chs := list.Chapters()
	if chs[len(chs)-1].ID != ch.ID {
		t.Fatalf("expected new chapter last, got %v", titles(chs))
	}
}

func TestChapterOrdersStayUnique(t *testing.T) {
	rec, mem := newRecordingStore(t, nil)
	seedBook(t, mem, domain.Book{ID: "b1", AuthorID: "u1"}, abcChapters()...)
	ctx := context.Background()
	list := NewChapterList(rec, "b1", abcChapters(), nil)

	steps := []func() error{
		func() error { _, err := list.Insert(ctx, "D"); return err },
		func() error { return list.Move(ctx, 3, 1) },
		func() error { return list.Delete(ctx, "b") },
		func() error { _, err := list.Insert(ctx, "E"); return err },
		func() error { return list.Move(ctx, 0, 3) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		stored, err := LoadChapters(ctx, mem, "b1")
		if err != nil {
			t.Fatalf("load after step %d: %v", i, err)
		}
		seen := map[int]bool{}
		for _, c := range stored {
			if seen[c.Order] {
				t.Fatalf("duplicate order %d after step %d: %v", c.Order, i, orders(stored))
			}
			seen[c.Order] = true
		}
		if got, want := fmt.Sprint(titles(stored)), fmt.Sprint(titles(list.Chapters())); got != want {
			t.Fatalf("store %s and view %s diverged after step %d", got, want, i)
		}
	}
}
