package editor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

// DeleteReport describes a completed cascade delete.
type DeleteReport struct {
	BookID     string `json:"bookId"`
	Chapters   int    `json:"chapters"`
	Reviews    int    `json:"reviews"`
	CoverImage string `json:"coverImage,omitempty"`
}

// Documents is the number of documents removed, book included.
func (r DeleteReport) Documents() int {
	return r.Chapters + r.Reviews + 1
}

// DeleteBook removes a book with all of its chapters and reviews in one batch.
// Either every document is removed or none is; the caller retries on failure.
func DeleteBook(ctx context.Context, s store.Store, id domain.Identity, bookID string) (DeleteReport, error) {
	book, err := LoadOwnedBook(ctx, s, id, bookID)
	if err != nil {
		return DeleteReport{}, err
	}

	var chapters, reviews []store.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := s.Query(gctx, chaptersQuery(bookID))
		chapters = docs
		return err
	})
	g.Go(func() error {
		docs, err := s.Query(gctx, store.Query{
			Collection: domain.CollectionReviews,
			Filters:    []store.Filter{store.Where("bookId", bookID)},
		})
		reviews = docs
		return err
	})
	if err := g.Wait(); err != nil {
		return DeleteReport{}, fmt.Errorf("enumerate book documents: %w", err)
	}

	b := s.Batch()
	for _, doc := range chapters {
		b.Delete(doc.Ref)
	}
	for _, doc := range reviews {
		b.Delete(doc.Ref)
	}
	b.Delete(bookRef(bookID))
	if err := b.Commit(ctx); err != nil {
		return DeleteReport{}, fmt.Errorf("delete book: %w", err)
	}
	return DeleteReport{
		BookID:     bookID,
		Chapters:   len(chapters),
		Reviews:    len(reviews),
		CoverImage: book.CoverImage,
	}, nil
}

// CreateBook writes a draft book together with its first chapter, so a book is
// never observed without chapters.
func CreateBook(ctx context.Context, s store.Store, id domain.Identity, title string) (domain.Book, error) {
	if id.UserID == "" {
		return domain.Book{}, ErrNoIdentity
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	bookID := store.NewID()
	b := s.Batch()
	b.Set(bookRef(bookID), map[string]any{
		"title":       title,
		"authorId":    id.UserID,
		"status":      string(domain.StatusDraft),
		"coverImage":  "",
		"description": "",
		"createdAt":   store.ServerTimestamp,
		"updatedAt":   store.ServerTimestamp,
	})
	b.Set(chapterRef(store.NewID()), map[string]any{
		"bookId":    bookID,
		"title":     "Chapter 1",
		"content":   "",
		"order":     1,
		"createdAt": store.ServerTimestamp,
		"updatedAt": store.ServerTimestamp,
	})
	if err := b.Commit(ctx); err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return LoadBook(ctx, s, bookID)
}
