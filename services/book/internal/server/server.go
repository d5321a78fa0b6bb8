package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"inkwell/internal/usertoken"
	"inkwell/internal/util"
	"inkwell/pkg/ai"
	"inkwell/pkg/domain"
	"inkwell/pkg/storage"
	"inkwell/services/book/internal/app"
)

// TokenVerifier turns a bearer token into the caller identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  TokenVerifier
	TrustedProxies []string
	CORSOrigins    []string
}

// Server exposes the book service over HTTP.
type Server struct {
	app      *app.App
	tokens   TokenVerifier
	trusted  *util.TrustedProxies
	cors     *util.CORS
	mux      *http.ServeMux
	maxCover int64
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: token verifier is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:      cfg.App,
		tokens:   cfg.TokenVerifier,
		trusted:  trusted,
		cors:     util.NewCORS(cfg.CORSOrigins),
		mux:      http.NewServeMux(),
		maxCover: storage.MaxCoverBytes + 1<<20,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithClientIP(s.trusted,
		util.WithRequestLog("book", util.WithSecurityHeaders(s.cors.Wrap(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/me", s.withUser(s.handleMe))
	s.mux.Handle("/me/reading-list/", s.withUser(s.handleReadingList))
	s.mux.Handle("/users/", s.withUser(s.handleUserByID))

	s.mux.Handle("/books", s.withUser(s.handleBooks))
	s.mux.Handle("/books/", s.withUser(s.handleBookByID))

	s.mux.Handle("/sessions", s.withUser(s.handleOpenSession))
	s.mux.Handle("/sessions/", s.withUser(s.handleSession))

	s.mux.Handle("/suggestions", s.withUser(s.handleSuggest))
	s.mux.Handle("/messages", s.withUser(s.handleMessages))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.Identity)

// withUser verifies the bearer token and makes sure the caller has a profile.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.tokens.Verify(usertoken.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.app.EnsureUser(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", id.UserID))
		next(w, r.WithContext(ctx), id)
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		u, err := s.app.GetUser(r.Context(), id.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodPatch:
		var req app.ProfileUpdate
		if !decodeBody(w, r, &req) {
			return
		}
		u, err := s.app.UpdateProfile(r.Context(), id, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	default:
		methodNotAllowed(w)
	}
}

// /me/reading-list/{bookId}
func (s *Server) handleReadingList(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	bookID := strings.TrimPrefix(r.URL.Path, "/me/reading-list/")
	if bookID == "" || strings.Contains(bookID, "/") {
		notFound(w, "not found")
		return
	}
	var (
		u   domain.User
		err error
	)
	switch r.Method {
	case http.MethodPost:
		u, err = s.app.AddToReadingList(r.Context(), id, bookID)
	case http.MethodDelete:
		u, err = s.app.RemoveFromReadingList(r.Context(), id, bookID)
	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// /users/{id} or /users/{id}/follow
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
	userID := parts[0]
	if userID == "" || len(parts) > 2 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		u, err := s.app.GetUser(r.Context(), userID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}
	if parts[1] != "follow" {
		notFound(w, "not found")
		return
	}
	var (
		u   domain.User
		err error
	)
	switch r.Method {
	case http.MethodPost:
		u, err = s.app.Follow(r.Context(), id, userID)
	case http.MethodDelete:
		u, err = s.app.Unfollow(r.Context(), id, userID)
	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type createBookRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	switch r.Method {
	case http.MethodPost:
		var req createBookRequest
		if !decodeBody(w, r, &req) {
			return
		}
		book, err := s.app.CreateBook(r.Context(), id, req.Title)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		author := strings.TrimSpace(r.URL.Query().Get("author"))
		if author == "me" {
			author = id.UserID
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		books, err := s.app.ListBooks(r.Context(), id, author, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": books,
			"count": len(books),
		})
	default:
		methodNotAllowed(w)
	}
}

// /books/{id}, /books/{id}/cover or /books/{id}/reviews
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/books/"), "/", 2)
	bookID := parts[0]
	if bookID == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "cover":
			s.handleCover(w, r, id, bookID)
		case "reviews":
			s.handleReviews(w, r, id, bookID)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetBook(r.Context(), id, bookID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		report, err := s.app.DeleteBook(r.Context(), id, bookID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request, id domain.Identity, bookID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxCover)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppError(w, r, storage.ErrImageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	cover, err := s.app.UploadCover(r.Context(), id, bookID, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cover)
}

type reviewRequest struct {
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request, id domain.Identity, bookID string) {
	switch r.Method {
	case http.MethodPost:
		var req reviewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		review, err := s.app.CreateReview(r.Context(), id, bookID, req.Rating, req.Text)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	case http.MethodGet:
		reviews, err := s.app.ListReviews(r.Context(), bookID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": reviews,
			"count": len(reviews),
		})
	default:
		methodNotAllowed(w)
	}
}

type suggestRequest struct {
	Title    string `json:"title" validate:"max=200"`
	Synopsis string `json:"synopsis" validate:"max=5000"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req suggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.app.Suggest(r.Context(), id, ai.SuggestRequest{Title: req.Title, Synopsis: req.Synopsis})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	switch r.Method {
	case http.MethodPost:
		var req messageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := s.app.SendMessage(r.Context(), id, strings.TrimSpace(req.To), req.Text)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	case http.MethodGet:
		with := strings.TrimSpace(r.URL.Query().Get("with"))
		if with == "" {
			writeError(w, http.StatusBadRequest, "with is required")
			return
		}
		msgs, err := s.app.Conversation(r.Context(), id, with)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	default:
		methodNotAllowed(w)
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a JSON body into v and checks its validate tags. Domain
// rules stay in the app layer.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: failed %s", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}
