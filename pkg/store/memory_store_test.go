package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(fixedClock(now)))

	ref, err := s.Create(ctx, "books", map[string]any{
		"title":     "Untitled",
		"createdAt": ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.ID == "" {
		t.Fatalf("expected store-assigned id")
	}
	if err := s.Update(ctx, ref, map[string]any{"title": "Dune"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ref.ID || got.Title != "Dune" || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestMemoryStoreUpdateMissingDocument(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(context.Background(), Doc("books", "missing"), map[string]any{"title": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSetMergeKeepsFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := Doc("users", "u1")
	if err := s.Set(ctx, ref, map[string]any{"displayName": "ada", "readingList": []string{"b1"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, ref, map[string]any{"displayName": "lovelace"}, Merge()); err != nil {
		t.Fatalf("merge set: %v", err)
	}
	doc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data["displayName"] != "lovelace" {
		t.Fatalf("expected merged name, got %v", doc.Data["displayName"])
	}
	if list, ok := doc.Data["readingList"].([]any); !ok || len(list) != 1 {
		t.Fatalf("expected reading list to survive merge, got %v", doc.Data["readingList"])
	}
}

func TestMemoryStoreQueryFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for id, order := range map[string]int{"c": 3, "a": 1, "b": 2} {
		if err := s.Set(ctx, Doc("chapters", id), map[string]any{"bookId": "b1", "order": order}); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}
	if err := s.Set(ctx, Doc("chapters", "other"), map[string]any{"bookId": "b2", "order": 0}); err != nil {
		t.Fatalf("set other: %v", err)
	}

	docs, err := s.Query(ctx, Query{Collection: "chapters", Filters: []Filter{Where("bookId", "b1")}, OrderBy: "order"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(docs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if docs[i].Ref.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, docs[i].Ref.ID)
		}
	}

	docs, err = s.Query(ctx, Query{Collection: "chapters", OrderBy: "order", Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("query desc: %v", err)
	}
	if len(docs) != 1 || docs[0].Ref.ID != "c" {
		t.Fatalf("expected c first in desc order, got %+v", docs)
	}
}

func TestMemoryStoreBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, Doc("chapters", "c1"), map[string]any{"order": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	b := s.Batch()
	b.Delete(Doc("chapters", "c1"))
	b.Update(Doc("chapters", "missing"), map[string]any{"order": 2})
	if err := b.Commit(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from batch, got %v", err)
	}
	if _, err := s.Get(ctx, Doc("chapters", "c1")); err != nil {
		t.Fatalf("expected c1 to survive failed batch, got %v", err)
	}

	b = s.Batch()
	b.Set(Doc("chapters", "c2"), map[string]any{"order": 2})
	b.Update(Doc("chapters", "c2"), map[string]any{"title": "two"})
	b.Delete(Doc("chapters", "c1"))
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := s.Get(ctx, Doc("chapters", "c1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected c1 deleted, got %v", err)
	}
	doc, err := s.Get(ctx, Doc("chapters", "c2"))
	if err != nil {
		t.Fatalf("get c2: %v", err)
	}
	if doc.Data["title"] != "two" {
		t.Fatalf("expected update after set in same batch, got %v", doc.Data)
	}
}

func TestMemoryStoreSubscribeDeliversChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sub, err := s.Subscribe(ctx, Query{Collection: "chapters", Filters: []Filter{Where("bookId", "b1")}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	snap := nextSnapshot(t, sub)
	if len(snap.Documents) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d docs", len(snap.Documents))
	}
	if err := s.Set(ctx, Doc("chapters", "c1"), map[string]any{"bookId": "b1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap = nextSnapshot(t, sub)
	if len(snap.Documents) != 1 || snap.Documents[0].Ref.ID != "c1" {
		t.Fatalf("expected c1 in snapshot, got %+v", snap.Documents)
	}
}

func TestMemoryStoreClosedRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Close()
	if err := s.Set(context.Background(), Doc("books", "b1"), map[string]any{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func nextSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed")
		}
		if snap.Err != nil {
			t.Fatalf("snapshot error: %v", snap.Err)
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot{}
}
