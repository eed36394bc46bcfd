package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/models"
)

type sendRequest struct {
	Content string `json:"content"`
}

type notificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

type clickResponse struct {
	Path string `json:"path,omitempty"`
}

// session resolves the caller's session, writing the failure if there is
// none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	sess, err := s.sessions.Acquire(r.Context(), identity)
	if err != nil {
		logger := logging.WithUser(s.logger, identity.ID)
		logger.Error().Err(err).Msg("failed to start session")
		writeFailure(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) openMessaging(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Messaging.OpenMessaging(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) closeMessaging(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Messaging.CloseMessaging()
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) goBack(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Messaging.GoBack()
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) showDirectory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Messaging.ShowDirectory(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) selectConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Messaging.SelectConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) selectUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Messaging.SelectUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Messaging.State())
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if !s.limiter.Allow(sess.Identity.ID) {
		writeFailure(w, errRateLimited)
		return
	}

	msg, err := sess.Messaging.SendMessage(r.Context(), req.Content)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: sess.Notifications.Notifications(),
		Unread:        sess.Notifications.UnreadCount(),
	})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, found := sess.Notifications.Find(id); !found {
		writeFailure(w, fmt.Errorf("%s: %w", id, errNotificationNotFound))
		return
	}
	if err := sess.Notifications.MarkRead(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Notifications.MarkAllRead(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clickNotification(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	n, found := sess.Notifications.Find(id)
	if !found {
		writeFailure(w, fmt.Errorf("%s: %w", id, errNotificationNotFound))
		return
	}
	path, err := sess.Notifications.Click(r.Context(), n)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clickResponse{Path: path})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.sessions.Release(identity.ID)
	s.limiter.forget(identity.ID)
	w.WriteHeader(http.StatusNoContent)
}
