package editor

import (
	"context"
	"fmt"
	"sort"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

func bookRef(id string) store.Ref {
	return store.Doc(domain.CollectionBooks, id)
}

func chapterRef(id string) store.Ref {
	return store.Doc(domain.CollectionChapters, id)
}

func chaptersQuery(bookID string) store.Query {
	return store.Query{
		Collection: domain.CollectionChapters,
		Filters:    []store.Filter{store.Where("bookId", bookID)},
		OrderBy:    "order",
	}
}

// DecodeBook converts a store document into a Book.
func DecodeBook(doc store.Document) (domain.Book, error) {
	var b domain.Book
	if err := doc.DataTo(&b); err != nil {
		return domain.Book{}, err
	}
	if b.Status == "" {
		b.Status = domain.StatusDraft
	}
	return b, nil
}

// DecodeChapter converts a store document into a Chapter.
func DecodeChapter(doc store.Document) (domain.Chapter, error) {
	var c domain.Chapter
	if err := doc.DataTo(&c); err != nil {
		return domain.Chapter{}, err
	}
	return c, nil
}

func decodeChapters(docs []store.Document) ([]domain.Chapter, error) {
	out := make([]domain.Chapter, 0, len(docs))
	for _, doc := range docs {
		c, err := DecodeChapter(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortChapters(out)
	return out, nil
}

// sortChapters orders by order, then creation time, then id, so that duplicate
// order values left by racing sessions still sort deterministically.
func sortChapters(chs []domain.Chapter) {
	sort.SliceStable(chs, func(i, j int) bool {
		a, b := chs[i], chs[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// LoadBook reads a book.
func LoadBook(ctx context.Context, s store.Store, bookID string) (domain.Book, error) {
	doc, err := s.Get(ctx, bookRef(bookID))
	if err != nil {
		return domain.Book{}, err
	}
	return DecodeBook(doc)
}

// LoadChapters reads the chapters of a book sorted by order.
func LoadChapters(ctx context.Context, s store.Store, bookID string) ([]domain.Chapter, error) {
	docs, err := s.Query(ctx, chaptersQuery(bookID))
	if err != nil {
		return nil, err
	}
	return decodeChapters(docs)
}

// LoadOwnedBook reads a book and checks that id owns it.
func LoadOwnedBook(ctx context.Context, s store.Store, id domain.Identity, bookID string) (domain.Book, error) {
	if id.UserID == "" {
		return domain.Book{}, ErrNoIdentity
	}
	book, err := LoadBook(ctx, s, bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if book.AuthorID != id.UserID {
		return domain.Book{}, ErrForbidden
	}
	return book, nil
}
