package server

import (
	"net/http"
	"strings"

	"inkwell/pkg/domain"
	"inkwell/pkg/editor"
)

type openSessionRequest struct {
	BookID   string `json:"bookId" validate:"required"`
	Autosave *bool  `json:"autosave"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req openSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	autosave := true
	if req.Autosave != nil {
		autosave = *req.Autosave
	}
	sess, err := s.app.OpenSession(r.Context(), id, req.BookID, autosave)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

// /sessions/{sid}[/action[/chapterId]]
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	sid := parts[0]
	if sid == "" || len(parts) > 3 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			sess, err := s.app.Session(id, sid)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sess.View())
		case http.MethodDelete:
			if err := s.app.CloseSession(id, sid); err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		default:
			methodNotAllowed(w)
		}
		return
	}

	sess, err := s.app.Session(id, sid)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	action := strings.Join(parts[1:], "/")
	switch {
	case action == "draft":
		s.handleDraftEdit(w, r, sess)
	case action == "save":
		s.handleSave(w, r, sess)
	case action == "autosave":
		s.handleAutosave(w, r, sess)
	case action == "publish":
		s.handlePublish(w, r, sess)
	case action == "active":
		s.handleSelect(w, r, sess)
	case action == "chapters":
		s.handleInsertChapter(w, r, sess)
	case action == "chapters/move":
		s.handleMoveChapter(w, r, sess)
	case len(parts) == 3 && parts[1] == "chapters":
		s.handleDeleteChapter(w, r, sess, parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleDraftEdit(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var edit editor.Edit
	if !decodeBody(w, r, &edit) {
		return
	}
	if err := sess.Edit(edit); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type autosaveRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutosave(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req autosaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := sess.SetAutosave(req.Enabled); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, err := sess.Publish(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type selectRequest struct {
	ChapterID string `json:"chapterId" validate:"required"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := sess.Select(r.Context(), req.ChapterID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type insertChapterRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (s *Server) handleInsertChapter(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req insertChapterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := sess.InsertChapter(r.Context(), req.Title); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

type moveChapterRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Server) handleMoveChapter(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req moveChapterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := sess.MoveChapter(r.Context(), req.From, req.To); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteChapter(w http.ResponseWriter, r *http.Request, sess *editor.Session, chapterID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := sess.DeleteChapter(r.Context(), chapterID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}
