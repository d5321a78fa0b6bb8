package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/internal/util"
	"inkwell/pkg/ai"
	"inkwell/pkg/editor"
	"inkwell/pkg/storage"
	"inkwell/services/book/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeCode(w, status, errorCode(status, msg), msg)
}

func writeCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func errorCode(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "invalid json body":
		return "REQUEST_INVALID_BODY"
	case "invalid form data":
		return "COVER_INVALID_FORM"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	if strings.Contains(msg, "file is required") {
		return "COVER_FILE_REQUIRED"
	}
	switch {
	case status == http.StatusBadRequest:
		return "REQUEST_INVALID"
	case status == http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case status >= http.StatusInternalServerError:
		return "SYSTEM_INTERNAL_ERROR"
	default:
		return "REQUEST_ERROR"
	}
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorTable = []errorMapping{
	{editor.ErrMissingCoverImage, http.StatusUnprocessableEntity, "BOOK_MISSING_COVER"},
	{editor.ErrEmptyContent, http.StatusUnprocessableEntity, "BOOK_EMPTY_CONTENT"},
	{editor.ErrMinimumChapterCount, http.StatusConflict, "CHAPTER_MINIMUM_COUNT"},
	{editor.ErrManualSaveDisabled, http.StatusConflict, "SESSION_MANUAL_SAVE_DISABLED"},
	{editor.ErrSessionClosed, http.StatusGone, "SESSION_CLOSED"},
	{editor.ErrInvalidMove, http.StatusBadRequest, "CHAPTER_INVALID_MOVE"},
	{editor.ErrChapterNotFound, http.StatusNotFound, "CHAPTER_NOT_FOUND"},
	{editor.ErrForbidden, http.StatusForbidden, "BOOK_FORBIDDEN"},
	{editor.ErrNoIdentity, http.StatusUnauthorized, "AUTH_INVALID_TOKEN"},
	{app.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{app.ErrBookNotFound, http.StatusNotFound, "BOOK_NOT_FOUND"},
	{app.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{app.ErrBookNotPublished, http.StatusConflict, "BOOK_NOT_PUBLISHED"},
	{app.ErrDisplayNameTaken, http.StatusConflict, "USER_DISPLAY_NAME_TAKEN"},
	{app.ErrInvalidName, http.StatusBadRequest, "USER_INVALID_DISPLAY_NAME"},
	{app.ErrInvalidRating, http.StatusBadRequest, "REVIEW_INVALID_RATING"},
	{app.ErrSelfReview, http.StatusBadRequest, "REVIEW_OWN_BOOK"},
	{app.ErrSelfFollow, http.StatusBadRequest, "USER_SELF_FOLLOW"},
	{app.ErrSelfMessage, http.StatusBadRequest, "MESSAGE_SELF"},
	{app.ErrEmptyMessage, http.StatusBadRequest, "MESSAGE_EMPTY"},
	{app.ErrTextTooLong, http.StatusBadRequest, "REQUEST_TEXT_TOO_LONG"},
	{app.ErrSuggestionsOff, http.StatusServiceUnavailable, "SUGGEST_UNAVAILABLE"},
	{app.ErrCoversUnavailable, http.StatusServiceUnavailable, "COVER_UNAVAILABLE"},
	{ai.ErrSynopsisTooShort, http.StatusBadRequest, "SUGGEST_SYNOPSIS_TOO_SHORT"},
	{storage.ErrUnsupportedImage, http.StatusUnsupportedMediaType, "COVER_UNSUPPORTED_TYPE"},
	{storage.ErrImageTooLarge, http.StatusRequestEntityTooLarge, "COVER_TOO_LARGE"},
}

// writeAppError maps domain errors to a status and a stable code. Anything
// unrecognised falls back on editor.Classify.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *app.RateLimitError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeCode(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
		return
	}
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			writeCode(w, m.status, m.code, err.Error())
			return
		}
	}
	var saveErr *editor.SaveError
	if errors.As(err, &saveErr) {
		code := "SESSION_SAVE_FAILED"
		if saveErr.Partial() {
			code = "SESSION_SAVE_PARTIAL"
		}
		util.LoggerFromContext(r.Context()).Warn("draft save failed", "partial", saveErr.Partial(), "err", err)
		writeCode(w, http.StatusServiceUnavailable, code, err.Error())
		return
	}
	switch editor.Classify(err) {
	case editor.KindValidation:
		writeCode(w, http.StatusBadRequest, "REQUEST_INVALID", err.Error())
	case editor.KindPermission:
		writeCode(w, http.StatusForbidden, "PERMISSION_DENIED", "forbidden")
	case editor.KindNotFound:
		writeCode(w, http.StatusNotFound, "SYSTEM_NOT_FOUND", "not found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeCode(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "temporarily unavailable, try again")
	}
}
