// Package server defines the wire frames exchanged with clients and utility
// helpers that are reused across session and registry logic.
package server

import (
	"strings"
	"time"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

// Outbound frame types.
const (
	FrameSent       = "sent"
	FrameNewMessage = "new_message"
	FrameError      = "error"
)

// Close codes sent to clients. The 4xxx range is reserved for applications.
const (
	CloseAuthFailed   = 4401
	CloseSuperseded   = 4409
	CloseSendOverflow = 1013 // websocket.CloseTryAgainLater
)

// Error codes carried by error frames.
const (
	ErrorCodeDeliveryFailed = "delivery_failed"
)

// InboundFrame is the JSON message a client sends to address another user.
// Any client-side id is ignored; the server assigns identifiers.
type InboundFrame struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// SentReceipt acknowledges a persisted message to its sender.
type SentReceipt struct {
	Type        string     `json:"type"`
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// NewMessagePush delivers a persisted message to its recipient.
type NewMessagePush struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	SenderID  string     `json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// ErrorFrame reports a failed operation back to the connection that asked for it.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newSentReceipt(msg message.Message) SentReceipt {
	return SentReceipt{
		Type:        FrameSent,
		ID:          msg.ID.String(),
		RecipientID: msg.RecipientID.String(),
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

func newMessagePush(msg message.Message) NewMessagePush {
	return NewMessagePush{
		Type:      FrameNewMessage,
		ID:        msg.ID.String(),
		SenderID:  msg.SenderID.String(),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
}

// MessageView is the JSON shape of a message on the HTTP endpoints.
type MessageView struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func newMessageView(msg message.Message) MessageView {
	return MessageView{
		ID:          msg.ID.String(),
		SenderID:    msg.SenderID.String(),
		RecipientID: msg.RecipientID.String(),
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
