// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, conversation history endpoints, and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-dm/internal/auth"
	"github.com/Tyrowin/gochat-dm/internal/message"
)

// WebSocketHandler upgrades the request, authenticates the credential it
// carries, and starts a session. Authentication failures are reported with
// close code CloseAuthFailed and never reach the registry.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	credential := auth.CredentialFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	userID, err := s.verifier.Verify(r.Context(), credential)
	if err != nil {
		s.log.Info("rejected websocket connection", "remote", r.RemoteAddr, "error", err)
		rejectConnection(conn, CloseAuthFailed, "authentication failed")
		return
	}

	s.startSession(conn, userID, r.RemoteAddr)
}

// HealthHandler provides a simple liveness endpoint.
func HealthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// ReadyHandler reports whether the message store is reachable.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": s.registry.Count(),
	})
}

// ListConversationHandler returns the caller's conversation with :peer in
// ascending creation order.
func (s *Server) ListConversationHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	peerID, err := uuid.Parse(ps.ByName("peer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "peer must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	messages, err := s.store.ListBetween(ctx, userID, peerID)
	if err != nil {
		s.storeFailure(w, "list conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(messages, func(msg message.Message, _ int) MessageView {
		return newMessageView(msg)
	}))
}

type editRequest struct {
	Content string `json:"content"`
}

// EditMessageHandler replaces the content of one of the caller's messages.
func (s *Server) EditMessageHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(w, ps)
	if !ok {
		return
	}

	var body editRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a content field")
		return
	}
	if err := message.ValidateContent(body.Content, s.cfg.MaxContentLength); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	if !s.authorizeSender(ctx, w, userID, messageID) {
		return
	}
	updated, err := s.store.UpdateContent(ctx, messageID, body.Content)
	if err != nil {
		s.storeFailure(w, "update message", err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(updated))
}

// DeleteMessageHandler removes one of the caller's messages.
func (s *Server) DeleteMessageHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(w, ps)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	if !s.authorizeSender(ctx, w, userID, messageID) {
		return
	}
	if err := s.store.Delete(ctx, messageID); err != nil {
		s.storeFailure(w, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := s.verifier.Verify(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gochat"`)
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return uuid.Nil, false
	}
	return userID, true
}

// authorizeSender writes the error response and returns false unless
// messageID exists and was sent by userID.
func (s *Server) authorizeSender(ctx context.Context, w http.ResponseWriter, userID, messageID uuid.UUID) bool {
	existing, err := s.store.Get(ctx, messageID)
	if err != nil {
		s.storeFailure(w, "get message", err)
		return false
	}
	if existing.SenderID != userID {
		if existing.Involves(userID) {
			writeError(w, http.StatusForbidden, "only the sender may change a message")
		} else {
			writeError(w, http.StatusNotFound, message.ErrNotFound.Error())
		}
		return false
	}
	return true
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, message.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("store operation failed", "op", op, "error", err)
	writeError(w, http.StatusServiceUnavailable, "message store unavailable")
}

func parseMessageID(w http.ResponseWriter, ps httprouter.Params) (uuid.UUID, bool) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
