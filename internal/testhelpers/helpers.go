// Package testhelpers provides common utilities for testing the GoChat server.
//
// It wraps the WebSocket dialing, frame reading and HTTP request plumbing
// shared by the server tests so that each test reads as a conversation
// between users.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. It matches the
// server's default allowed origin.
const TestOrigin = "http://localhost:8080"

// FrameTimeout bounds every blocking read in these helpers.
const FrameTimeout = 2 * time.Second

// CreateTestServer starts handler on a loopback listener and closes it when
// the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// WebSocketURL turns the base URL of a test server into its /ws endpoint,
// passing token as the access_token query parameter when non-empty.
func WebSocketURL(t *testing.T, baseURL, token string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"access_token": {token}}.Encode()
	}
	return u.String()
}

// ConnectWebSocket dials wsURL with TestOrigin.
func ConnectWebSocket(wsURL string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials wsURL and closes the connection when the test ends.
func MustConnect(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(wsURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendFrame writes a direct message frame addressed to recipientID.
func SendFrame(t *testing.T, conn *websocket.Conn, recipientID, content string) {
	t.Helper()
	frame := map[string]string{"recipient_id": recipientID, "content": content}
	require.NoError(t, conn.WriteJSON(frame))
}

// SendRaw writes data as a single text message.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadFrame reads the next JSON frame, failing the test after FrameTimeout.
func ReadFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(FrameTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame), "frame %q", data)
	return frame
}

// ExpectClose reads until the server closes the connection and returns the
// close code it sent.
func ExpectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(FrameTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr.Code
	}
}

// ExpectNoFrame asserts that nothing arrives within wait. The connection
// must not be read from afterwards.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", data)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

// MakeRequest performs an HTTP request with an optional bearer token and
// JSON body.
func MakeRequest(t *testing.T, method, target, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// AssertStatusCode checks the response status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "unexpected status for %s %s", resp.Request.Method, resp.Request.URL.Path)
}

// AssertContentType checks the media type of the response, ignoring parameters.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := strings.Cut(contentType, ";")
	require.Equal(t, expected, strings.TrimSpace(mediaType))
}
