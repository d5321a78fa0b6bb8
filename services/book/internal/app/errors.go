package app

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrBookNotPublished  = errors.New("book is not published")
	ErrUserNotFound      = errors.New("user not found")
	ErrSessionNotFound   = errors.New("editing session not found")
	ErrDisplayNameTaken  = errors.New("display name already taken")
	ErrInvalidName       = errors.New("display name must be 3 to 40 characters")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrSelfReview        = errors.New("authors cannot review their own book")
	ErrSelfFollow        = errors.New("users cannot follow themselves")
	ErrSelfMessage       = errors.New("users cannot message themselves")
	ErrEmptyMessage      = errors.New("message text is required")
	ErrTextTooLong       = errors.New("text is too long")
	ErrSuggestionsOff    = errors.New("suggestions are not configured")
	ErrCoversUnavailable = errors.New("cover uploads are not configured")
)

// RateLimitError is returned when a caller has used up a quota.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}
