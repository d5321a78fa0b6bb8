package editor

import (
	"context"
	"fmt"
	"strings"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

// PublishNotifier is told about books that were just published.
type PublishNotifier interface {
	NotifyPublished(ctx context.Context, book domain.Book) error
}

// CheckPublishable validates a book before it may be published. It never writes.
func CheckPublishable(book domain.Book, chapters []domain.Chapter) error {
	if strings.TrimSpace(book.CoverImage) == "" {
		return &ValidationError{Field: "coverImage", Err: ErrMissingCoverImage}
	}
	for _, c := range chapters {
		if PlainText(c.Content) != "" {
			return nil
		}
	}
	return &ValidationError{Field: "content", Err: ErrEmptyContent}
}

// Publish validates the draft as the author currently sees it, saves it and
// then marks the book published. A failed save aborts the publish. Publishing
// an already published book re-asserts the status and bumps updatedAt.
func (s *Session) Publish(ctx context.Context) (domain.Book, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Book{}, err
	}
	fields := s.draft.Fields()
	candidate := s.Book()
	candidate.Title = fields.BookTitle
	candidate.CoverImage = fields.CoverImage
	candidate.Description = fields.Description
	chapters := s.chapters.Chapters()
	for i := range chapters {
		if chapters[i].ID == fields.ChapterID {
			chapters[i].Title = fields.ChapterTitle
			chapters[i].Content = fields.ChapterContent
		}
	}
	if err := CheckPublishable(candidate, chapters); err != nil {
		return domain.Book{}, err
	}

	if err := s.draft.Flush(ctx); err != nil {
		return domain.Book{}, fmt.Errorf("publish aborted: %w", err)
	}
	if err := s.store.Update(ctx, bookRef(s.bookID), map[string]any{
		"status":    string(domain.StatusPublished),
		"updatedAt": store.ServerTimestamp,
	}); err != nil {
		return domain.Book{}, fmt.Errorf("publish book: %w", err)
	}

	book, err := LoadBook(ctx, s.store, s.bookID)
	if err != nil {
		book = candidate
		book.Status = domain.StatusPublished
	}
	s.setBook(book)
	s.logger.Info("book published", "title", book.Title)
	if s.notifier != nil {
		if err := s.notifier.NotifyPublished(ctx, book); err != nil {
			s.logger.Warn("publish notification failed", "err", err)
		}
	}
	return book, nil
}
