// Package server routes messages to live connections through the Registry,
// which maps each authenticated user to at most one connection handle.
package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handle is the outbound side of a live connection as seen by the registry
// and the delivery engine. SendJSON must be safe for concurrent callers and
// must not block. Close asks the owning session to end; it never blocks.
type Handle interface {
	SendJSON(v any) error
	Close(code int, reason string)
}

// SendResult is the outcome of routing a frame to a user.
type SendResult int

const (
	SendOffline SendResult = iota
	SendDelivered
	SendFailed
)

func (r SendResult) String() string {
	switch r {
	case SendDelivered:
		return "delivered"
	case SendFailed:
		return "failed"
	default:
		return "offline"
	}
}

// Registry maps user identities to their current connection handle.
// A later Register for the same user replaces the earlier handle
// (last-connect-wins). The registry never owns a handle: it does not close
// handles it drops, and Deregister only removes the entry if it still
// refers to the caller's handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]Handle
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handles: make(map[uuid.UUID]Handle),
		log:     log,
	}
}

// Register points userID at h and returns the handle it replaced, if any.
func (r *Registry) Register(userID uuid.UUID, h Handle) Handle {
	r.mu.Lock()
	previous := r.handles[userID]
	r.handles[userID] = h
	count := len(r.handles)
	r.mu.Unlock()

	if previous != nil && previous != h {
		r.log.Info("connection superseded", "user_id", userID, "connections", count)
		return previous
	}
	r.log.Debug("connection registered", "user_id", userID, "connections", count)
	return nil
}

// Deregister removes userID only while it still maps to h and reports
// whether it did. A superseded session calling this cannot evict the newer
// registration.
func (r *Registry) Deregister(userID uuid.UUID, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[userID]
	if !ok || current != h {
		return false
	}
	delete(r.handles, userID)
	r.log.Debug("connection deregistered", "user_id", userID, "connections", len(r.handles))
	return true
}

// Lookup returns the current handle for userID. A missing entry means the
// user is offline.
func (r *Registry) Lookup(userID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[userID]
	return h, ok
}

// Send routes v to userID's current handle. The lock is released before the
// handle is called. When the handle rejects the frame its entry is
// compare-and-deleted and the transport error is returned with SendFailed.
func (r *Registry) Send(userID uuid.UUID, v any) (SendResult, error) {
	h, ok := r.Lookup(userID)
	if !ok {
		return SendOffline, nil
	}
	if err := h.SendJSON(v); err != nil {
		r.Deregister(userID, h)
		r.log.Warn("delivery to connection failed", "user_id", userID, "error", err)
		return SendFailed, err
	}
	return SendDelivered, nil
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Handles returns a snapshot of every registered handle.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}
