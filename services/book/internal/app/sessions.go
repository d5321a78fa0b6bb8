package app

import (
	"context"
	"sync"
	"time"

	"inkwell/internal/util"
	"inkwell/pkg/domain"
	"inkwell/pkg/editor"
	"inkwell/pkg/events"
)

type sessionRegistry struct {
	mu   sync.Mutex
	byID map[string]*editor.Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byID: map[string]*editor.Session{}}
}

func (r *sessionRegistry) add(s *editor.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

func (r *sessionRegistry) get(id string) (*editor.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) (*editor.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	return s, ok
}

// forBook returns any open session on bookID.
func (r *sessionRegistry) forBook(bookID string) *editor.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.BookID() == bookID {
			return s
		}
	}
	return nil
}

func (r *sessionRegistry) removeBook(bookID string) []*editor.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*editor.Session
	for id, s := range r.byID {
		if s.BookID() == bookID {
			out = append(out, s)
			delete(r.byID, id)
		}
	}
	return out
}

func (r *sessionRegistry) drain() []*editor.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*editor.Session, 0, len(r.byID))
	for id, s := range r.byID {
		out = append(out, s)
		delete(r.byID, id)
	}
	return out
}

// OpenSession starts editing a book the caller owns.
func (a *App) OpenSession(ctx context.Context, id domain.Identity, bookID string, autosave bool) (*editor.Session, error) {
	s, err := editor.Open(ctx, editor.SessionConfig{
		Store:       a.store,
		Identity:    id,
		BookID:      bookID,
		Autosave:    autosave,
		Debounce:    a.debounce,
		SaveTimeout: a.saveTimeout,
		Clock:       a.clock,
		Logger:      util.LoggerFromContext(ctx),
		Notifier:    events.BookNotifier{Publisher: a.publisher},
		OnSaved:     func(prev, saved editor.Fields) {
			a.settleCovers(bookID, saved.CoverImage, prev.CoverImage)
		},
	})
	if err != nil {
		return nil, a.mapNotFound(err)
	}
	a.sessions.add(s)
	return s, nil
}

// Session looks up an open session owned by the caller. Other users' sessions
// are reported as missing.
func (a *App) Session(id domain.Identity, sessionID string) (*editor.Session, error) {
	s, ok := a.sessions.get(sessionID)
	if !ok || s.OwnerID() != id.UserID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession flushes nothing: pending autosaves are dropped, a save in
// flight completes.
func (a *App) CloseSession(id domain.Identity, sessionID string) error {
	if _, err := a.Session(id, sessionID); err != nil {
		return err
	}
	if s, ok := a.sessions.remove(sessionID); ok {
		s.Close()
		ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout+time.Second)
		defer cancel()
		_ = s.Draft().WaitIdle(ctx)
		a.settleCovers(s.BookID(), s.Draft().Saved().CoverImage)
	}
	return nil
}

// unsavedCovers remembers covers uploaded into a draft that no save has
// written yet.
type unsavedCovers struct {
	mu     sync.Mutex
	byBook map[string][]string
}

func newUnsavedCovers() *unsavedCovers {
	return &unsavedCovers{byBook: map[string][]string{}}
}

func (u *unsavedCovers) add(bookID, url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.byBook[bookID] = append(u.byBook[bookID], url)
}

// take forgets every cover recorded for bookID and returns those other than keep.
func (u *unsavedCovers) take(bookID, keep string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, url := range u.byBook[bookID] {
		if url != keep {
			out = append(out, url)
		}
	}
	delete(u.byBook, bookID)
	return out
}

// settleCovers schedules removal of covers the book no longer references:
// unsaved uploads that lost to keep, and any replaced saved covers.
func (a *App) settleCovers(bookID, keep string, replaced ...string) {
	ctx := context.Background()
	seen := map[string]bool{keep: true, "": true}
	for _, url := range append(a.unsaved.take(bookID, keep), replaced...) {
		if seen[url] {
			continue
		}
		seen[url] = true
		a.discardCover(ctx, bookID, url)
	}
}

func (a *App) mapNotFound(err error) error {
	if isNotFound(err) {
		return ErrBookNotFound
	}
	return err
}
