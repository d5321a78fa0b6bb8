package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"inkwell/pkg/domain"
	"inkwell/pkg/editor"
	"inkwell/pkg/events"
	"inkwell/pkg/storage"
	"inkwell/pkg/store"
)

func (a *App) loadBook(ctx context.Context, bookID string) (domain.Book, error) {
	book, err := editor.LoadBook(ctx, a.store, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Book{}, ErrBookNotFound
	}
	return book, err
}

// CreateBook starts a draft with its first chapter.
func (a *App) CreateBook(ctx context.Context, id domain.Identity, title string) (domain.Book, error) {
	if _, err := a.EnsureUser(ctx, id); err != nil {
		return domain.Book{}, err
	}
	book, err := editor.CreateBook(ctx, a.store, id, title)
	if err != nil {
		return domain.Book{}, err
	}
	a.logger.Info("book created", "book_id", book.ID, "author_id", id.UserID)
	return book, nil
}

// BookDetail is a book with its chapters in reading order.
type BookDetail struct {
	Book     domain.Book      `json:"book"`
	Chapters []domain.Chapter `json:"chapters"`
}

// GetBook returns a published book to anyone and a draft to its author only.
func (a *App) GetBook(ctx context.Context, id domain.Identity, bookID string) (BookDetail, error) {
	book, err := a.loadBook(ctx, bookID)
	if err != nil {
		return BookDetail{}, err
	}
	if book.Status != domain.StatusPublished && book.AuthorID != id.UserID {
		return BookDetail{}, ErrBookNotFound
	}
	chapters, err := editor.LoadChapters(ctx, a.store, bookID)
	if err != nil {
		return BookDetail{}, err
	}
	return BookDetail{Book: book, Chapters: chapters}, nil
}

// ListBooks returns published books, newest first. With authorID set it
// returns that author's books; drafts are included only for the author.
func (a *App) ListBooks(ctx context.Context, id domain.Identity, authorID string, limit int) ([]domain.Book, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := store.Query{Collection: domain.CollectionBooks, OrderBy: "updatedAt", Desc: true}
	switch {
	case authorID != "" && authorID == id.UserID:
		q.Filters = []store.Filter{store.Where("authorId", authorID)}
	case authorID != "":
		q.Filters = []store.Filter{store.Where("authorId", authorID), store.Where("status", string(domain.StatusPublished))}
	default:
		q.Filters = []store.Filter{store.Where("status", string(domain.StatusPublished))}
	}
	q.Limit = limit
	docs, err := a.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Book, 0, len(docs))
	for _, d := range docs {
		b, err := editor.DecodeBook(d)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// DeleteBook cascades the delete, ends the book's editing sessions and
// schedules removal of its cover.
func (a *App) DeleteBook(ctx context.Context, id domain.Identity, bookID string) (editor.DeleteReport, error) {
	report, err := editor.DeleteBook(ctx, a.store, id, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return editor.DeleteReport{}, ErrBookNotFound
	}
	if err != nil {
		return editor.DeleteReport{}, err
	}
	for _, s := range a.sessions.removeBook(bookID) {
		s.Close()
	}
	a.settleCovers(bookID, "", report.CoverImage)
	if err := a.publisher.Publish(ctx, events.RoutingBookDeleted, events.BookDeleted{
		BookID:   bookID,
		AuthorID: id.UserID,
		Chapters: report.Chapters,
		Reviews:  report.Reviews,
	}); err != nil {
		a.logger.Warn("publish book deleted failed", "book_id", bookID, "err", err)
	}
	a.logger.Info("book deleted", "book_id", bookID, "documents", report.Documents())
	return report, nil
}

// UploadCover stores a new cover image. When the author has the book open
// the URL goes through the draft, otherwise it is written to the book and the
// previous cover, if uploaded here, is scheduled for removal.
func (a *App) UploadCover(ctx context.Context, id domain.Identity, bookID string, r io.Reader, size int64) (storage.Cover, error) {
	if a.covers == nil {
		return storage.Cover{}, ErrCoversUnavailable
	}
	book, err := editor.LoadOwnedBook(ctx, a.store, id, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return storage.Cover{}, ErrBookNotFound
	}
	if err != nil {
		return storage.Cover{}, err
	}
	cover, err := a.covers.Upload(ctx, bookID, r, size)
	if err != nil {
		return storage.Cover{}, err
	}

	if s := a.sessions.forBook(bookID); s != nil {
		if err := s.Edit(editor.Edit{CoverImage: &cover.URL}); err != nil {
			a.rollbackCover(ctx, bookID, cover)
			return storage.Cover{}, err
		}
		// Replaced covers are cleaned up once a save lands.
		a.unsaved.add(bookID, cover.URL)
		return cover, nil
	}
	if err := a.store.Update(ctx, store.Doc(domain.CollectionBooks, bookID), map[string]any{
		"coverImage": cover.URL,
		"updatedAt":  store.ServerTimestamp,
	}); err != nil {
		a.rollbackCover(ctx, bookID, cover)
		return storage.Cover{}, fmt.Errorf("set cover: %w", err)
	}
	if book.CoverImage != "" && book.CoverImage != cover.URL {
		a.discardCover(ctx, bookID, book.CoverImage)
	}
	return cover, nil
}

func (a *App) rollbackCover(ctx context.Context, bookID string, cover storage.Cover) {
	if err := a.covers.Delete(ctx, cover.Key); err != nil {
		a.logger.Warn("cover rollback failed", "book_id", bookID, "key", cover.Key, "err", err)
	}
}
