package editor

import (
	"errors"
	"fmt"

	"inkwell/pkg/store"
)

var (
	ErrMissingCoverImage   = errors.New("a cover image is required before publishing")
	ErrEmptyContent        = errors.New("at least one chapter must have content before publishing")
	ErrMinimumChapterCount = errors.New("a book must keep at least one chapter")
	ErrManualSaveDisabled  = errors.New("manual save is disabled while autosave is on")
	ErrForbidden           = errors.New("book is not owned by the current user")
	ErrNoIdentity          = errors.New("an authenticated identity is required")
	ErrChapterNotFound     = errors.New("chapter not found")
	ErrInvalidMove         = errors.New("move index out of range")
	ErrSessionClosed       = errors.New("editing session closed")
)

// ValidationError is returned before any write when input is rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SaveError reports the outcome of the writes a draft save issues: the book
// and, when a chapter is active, the chapter. A write that succeeded is never
// rolled back.
type SaveError struct {
	Book    error
	Chapter error

	// Issued is how many writes were sent (1 or 2).
	Issued int
}

// Partial reports whether both writes were issued and exactly one failed.
func (e *SaveError) Partial() bool {
	return e.Issued == 2 && (e.Book == nil) != (e.Chapter == nil)
}

func (e *SaveError) Error() string {
	switch {
	case e.Book != nil && e.Chapter != nil:
		return fmt.Sprintf("save failed: book: %v; chapter: %v", e.Book, e.Chapter)
	case !e.Partial() && e.Book != nil:
		return fmt.Sprintf("save failed: book: %v", e.Book)
	case !e.Partial():
		return fmt.Sprintf("save failed: chapter: %v", e.Chapter)
	case e.Book != nil:
		return fmt.Sprintf("save partially failed: book: %v", e.Book)
	default:
		return fmt.Sprintf("save partially failed: chapter: %v", e.Chapter)
	}
}

func (e *SaveError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Book != nil {
		out = append(out, e.Book)
	}
	if e.Chapter != nil {
		out = append(out, e.Chapter)
	}
	return out
}

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindNone            Kind = ""
	KindValidation      Kind = "validation"
	KindMinimumChapters Kind = "minimum_chapters"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindPermission      Kind = "permission"
	KindTransient       Kind = "transient"
)

// Classify maps any engine or store error to a Kind. Permission errors are
// fatal for the editing page; transient ones can be retried by saving again.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrMinimumChapterCount):
		return KindMinimumChapters
	case errors.Is(err, ErrManualSaveDisabled), errors.Is(err, ErrSessionClosed):
		return KindConflict
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNoIdentity), errors.Is(err, store.ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrChapterNotFound), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidMove):
		return KindValidation
	default:
		return KindTransient
	}
}
