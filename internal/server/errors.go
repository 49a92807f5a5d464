package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrSendBufferFull means a connection's outbound queue overflowed.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed means the connection is already shutting down.
	ErrConnectionClosed = errors.New("connection closed")
)

// TransportError is a send failure on a connection handle.
type TransportError struct {
	UserID uuid.UUID
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.UserID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a connection send failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
