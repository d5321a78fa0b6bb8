package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"inkwell/pkg/ai"
	"inkwell/pkg/domain"
	"inkwell/pkg/editor"
	"inkwell/pkg/store"
)

const (
	maxReviewRunes  = 5000
	maxMessageRunes = 2000
	maxThreadLength = 200
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// CreateReview adds a rating to a published book by someone other than its author.
func (a *App) CreateReview(ctx context.Context, id domain.Identity, bookID string, rating int, text string) (domain.Review, error) {
	if rating < 1 || rating > 5 {
		return domain.Review{}, &editor.ValidationError{Field: "rating", Err: ErrInvalidRating}
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxReviewRunes {
		return domain.Review{}, &editor.ValidationError{Field: "text", Err: ErrTextTooLong}
	}
	book, err := a.loadBook(ctx, bookID)
	if err != nil {
		return domain.Review{}, err
	}
	if book.Status != domain.StatusPublished {
		return domain.Review{}, ErrBookNotPublished
	}
	if book.AuthorID == id.UserID {
		return domain.Review{}, &editor.ValidationError{Field: "bookId", Err: ErrSelfReview}
	}
	if _, err := a.EnsureUser(ctx, id); err != nil {
		return domain.Review{}, err
	}
	ref, err := a.store.Create(ctx, domain.CollectionReviews, map[string]any{
		"bookId":    bookID,
		"authorId":  id.UserID,
		"rating":    rating,
		"text":      text,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		return domain.Review{}, fmt.Errorf("create review: %w", err)
	}
	doc, err := a.store.Get(ctx, ref)
	if err != nil {
		return domain.Review{}, err
	}
	var r domain.Review
	if err := doc.DataTo(&r); err != nil {
		return domain.Review{}, err
	}
	return r, nil
}

// ListReviews returns a book's reviews, newest first.
func (a *App) ListReviews(ctx context.Context, bookID string) ([]domain.Review, error) {
	docs, err := a.store.Query(ctx, store.Query{
		Collection: domain.CollectionReviews,
		Filters:    []store.Filter{store.Where("bookId", bookID)},
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Review, 0, len(docs))
	for _, d := range docs {
		var r domain.Review
		if err := d.DataTo(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// threadKey names the conversation between two users independent of who
// writes first.
func threadKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

func (a *App) SendMessage(ctx context.Context, id domain.Identity, to, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return domain.Message{}, &editor.ValidationError{Field: "text", Err: ErrEmptyMessage}
	case utf8.RuneCountInString(text) > maxMessageRunes:
		return domain.Message{}, &editor.ValidationError{Field: "text", Err: ErrTextTooLong}
	case to == id.UserID:
		return domain.Message{}, &editor.ValidationError{Field: "to", Err: ErrSelfMessage}
	}
	if _, err := a.GetUser(ctx, to); err != nil {
		return domain.Message{}, err
	}
	if _, err := a.EnsureUser(ctx, id); err != nil {
		return domain.Message{}, err
	}
	ref, err := a.store.Create(ctx, domain.CollectionMessages, map[string]any{
		"fromId":       id.UserID,
		"toId":         to,
		"participants": []string{id.UserID, to},
		"thread":       threadKey(id.UserID, to),
		"text":         text,
		"createdAt":    store.ServerTimestamp,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	doc, err := a.store.Get(ctx, ref)
	if err != nil {
		return domain.Message{}, err
	}
	var m domain.Message
	if err := doc.DataTo(&m); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// Conversation lists the latest messages between the caller and another
// user, oldest first.
func (a *App) Conversation(ctx context.Context, id domain.Identity, with string) ([]domain.Message, error) {
	docs, err := a.store.Query(ctx, store.Query{
		Collection: domain.CollectionMessages,
		Filters:    []store.Filter{store.Where("thread", threadKey(id.UserID, with))},
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      maxThreadLength,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(docs))
	for i, d := range docs {
		if err := d.DataTo(&out[len(docs)-1-i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Suggest asks the model for ideas from a synopsis. Input too short to be
// useful is rejected before it counts against the caller's quota.
func (a *App) Suggest(ctx context.Context, id domain.Identity, req ai.SuggestRequest) (ai.Suggestions, error) {
	if utf8.RuneCountInString(strings.TrimSpace(req.Synopsis)) < ai.MinSynopsisLength {
		return ai.Suggestions{}, &editor.ValidationError{Field: "synopsis", Err: ai.ErrSynopsisTooShort}
	}
	if a.suggester == nil {
		return ai.Suggestions{}, ErrSuggestionsOff
	}
	if a.limiter != nil {
		d, err := a.limiter.Allow(ctx, id.UserID)
		if err != nil {
			a.logger.Warn("suggestion rate limit check failed", "user_id", id.UserID, "err", err)
		}
		if !d.Allowed {
			return ai.Suggestions{}, &RateLimitError{RetryAfter: d.RetryAfter}
		}
	}
	return a.suggester.Suggest(ctx, req)
}
