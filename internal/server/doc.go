// Package server implements the HTTP and WebSocket surface of GoChat direct
// messaging.
//
// An authenticated WebSocket connection becomes a Client, registered in the
// Registry under its user ID. Frames read from the client go through the
// delivery Engine, which persists each message before acknowledging the
// sender and pushing it to the recipient's current connection, if any.
// Conversation history is served over plain HTTP from the same store.
package server
