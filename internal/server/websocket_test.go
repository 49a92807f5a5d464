package server_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/gochat-dm/internal/auth"
	"github.com/Tyrowin/gochat-dm/internal/message"
	"github.com/Tyrowin/gochat-dm/internal/mocks"
	"github.com/Tyrowin/gochat-dm/internal/server"
	"github.com/Tyrowin/gochat-dm/internal/testhelpers"
)

// TestDirectMessageToOnlineRecipient walks the basic exchange: u1 is
// acknowledged and u2 receives the same persisted message.
func TestDirectMessageToOnlineRecipient(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	recipient := h.connect(t, u2)
	sender := h.connect(t, u1)

	testhelpers.SendFrame(t, sender, u2.String(), "hi")

	ack := testhelpers.ReadFrame(t, sender)
	req.Equal("sent", ack["type"])
	req.Equal("hi", ack["content"])
	req.Equal(u2.String(), ack["recipient_id"])
	req.NotEmpty(ack["created_at"])
	req.Nil(ack["updated_at"])

	push := testhelpers.ReadFrame(t, recipient)
	req.Equal("new_message", push["type"])
	req.Equal(u1.String(), push["sender_id"])
	req.Equal("hi", push["content"])
	req.Equal(ack["id"], push["id"])

	id, err := uuid.Parse(ack["id"].(string))
	req.NoError(err)
	stored, err := h.store.Get(context.Background(), id)
	req.NoError(err)
	req.Equal("hi", stored.Content)
}

// TestClientSuppliedIDIsIgnored verifies that the server assigns identifiers.
func TestClientSuppliedIDIsIgnored(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	sender := h.connect(t, u1)
	clientID := uuid.NewString()

	testhelpers.SendRaw(t, sender, fmt.Sprintf(`{"id":%q,"recipient_id":%q,"content":"hi"}`, clientID, u2))

	ack := testhelpers.ReadFrame(t, sender)
	require.Equal(t, "sent", ack["type"])
	require.NotEqual(t, clientID, ack["id"])
}

// TestDirectMessageToOfflineRecipientIsStored verifies that only the sender
// hears back when the recipient is offline and the message is kept.
func TestDirectMessageToOfflineRecipientIsStored(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	sender := h.connect(t, u1)

	testhelpers.SendFrame(t, sender, u2.String(), "are you there?")
	ack := testhelpers.ReadFrame(t, sender)
	req.Equal("sent", ack["type"])

	history, err := h.store.ListBetween(context.Background(), u2, u1)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(ack["id"], history[0].ID.String())
	req.Equal(u1, history[0].SenderID)

	// Coming online later does not replay the message over the socket.
	recipient := h.connect(t, u2)
	testhelpers.ExpectNoFrame(t, recipient, 200*time.Millisecond)
}

// TestMessagesFromOneConnectionStayOrdered verifies that acknowledgments and
// pushes follow the order frames were received on the connection.
func TestMessagesFromOneConnectionStayOrdered(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	recipient := h.connect(t, u2)
	sender := h.connect(t, u1)

	const count = 20
	for i := 0; i < count; i++ {
		testhelpers.SendFrame(t, sender, u2.String(), fmt.Sprintf("msg-%02d", i))
	}

	for i := 0; i < count; i++ {
		want := fmt.Sprintf("msg-%02d", i)
		ack := testhelpers.ReadFrame(t, sender)
		req.Equal("sent", ack["type"])
		req.Equal(want, ack["content"])

		push := testhelpers.ReadFrame(t, recipient)
		req.Equal(want, push["content"])
		req.Equal(ack["id"], push["id"])
	}
}

// TestBothDirections verifies that two connected users can talk both ways.
func TestBothDirections(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	c1 := h.connect(t, u1)
	c2 := h.connect(t, u2)

	testhelpers.SendFrame(t, c1, u2.String(), "ping")
	require.Equal(t, "sent", testhelpers.ReadFrame(t, c1)["type"])
	require.Equal(t, "ping", testhelpers.ReadFrame(t, c2)["content"])

	testhelpers.SendFrame(t, c2, u1.String(), "pong")
	require.Equal(t, "sent", testhelpers.ReadFrame(t, c2)["type"])
	require.Equal(t, "pong", testhelpers.ReadFrame(t, c1)["content"])
}

// TestAuthenticationFailureClosesConnection verifies that bad credentials
// are closed with CloseAuthFailed and never registered.
func TestAuthenticationFailureClosesConnection(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	expired, err := auth.IssueToken(testSecret, testIssuer, userID, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := auth.IssueToken("another-secret", testIssuer, userID, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := auth.IssueToken(testSecret, "someone-else", userID, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"expired token", expired},
		{"wrong signing key", wrongKey},
		{"wrong issuer", wrongIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testhelpers.MustConnect(t, testhelpers.WebSocketURL(t, h.http.URL, tt.token))
			require.Equal(t, server.CloseAuthFailed, testhelpers.ExpectClose(t, conn))
			require.Zero(t, h.srv.Registry().Count())
		})
	}
}

// TestBearerHeaderAuthentication verifies the Authorization header is
// accepted in place of the query parameter.
func TestBearerHeaderAuthentication(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	headers := http.Header{}
	headers.Set("Origin", testhelpers.TestOrigin)
	headers.Set("Authorization", "Bearer "+token(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial(testhelpers.WebSocketURL(t, h.http.URL, ""), headers)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	h.waitOnline(t, userID)
}

// TestInvalidFramesAreIgnored verifies that malformed and invalid frames do
// not end the session.
func TestInvalidFramesAreIgnored(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	sender := h.connect(t, u1)

	testhelpers.SendRaw(t, sender, "not json")
	testhelpers.SendRaw(t, sender, `["an","array"]`)
	testhelpers.SendRaw(t, sender, `{"content":"nobody"}`)
	testhelpers.SendFrame(t, sender, "not-a-uuid", "hi")
	testhelpers.SendFrame(t, sender, u1.String(), "talking to myself")
	testhelpers.SendFrame(t, sender, u2.String(), "   ")
	testhelpers.SendFrame(t, sender, u2.String(), strings.Repeat("x", 2001))
	testhelpers.SendFrame(t, sender, u2.String(), "valid")

	ack := testhelpers.ReadFrame(t, sender)
	require.Equal(t, "sent", ack["type"])
	require.Equal(t, "valid", ack["content"])

	history, err := h.store.ListBetween(context.Background(), u1, u2)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

// TestStorageFailureIsReportedToSender verifies that a failed write produces
// an error frame, reaches nobody else, and leaves the session usable.
func TestStorageFailureIsReportedToSender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	h := newHarnessWithStore(t, st, false)
	u1, u2 := uuid.New(), uuid.New()

	stored := message.Message{
		ID:          uuid.Must(uuid.NewV7()),
		SenderID:    u1,
		RecipientID: u2,
		Content:     "second try",
		CreatedAt:   time.Now().UTC(),
	}
	gomock.InOrder(
		st.EXPECT().Create(gomock.Any(), u1, u2, "first try").
			Return(message.Message{}, errors.New("disk full")),
		st.EXPECT().Create(gomock.Any(), u1, u2, "second try").
			Return(stored, nil),
	)

	recipient := h.connect(t, u2)
	sender := h.connect(t, u1)

	testhelpers.SendFrame(t, sender, u2.String(), "first try")
	failure := testhelpers.ReadFrame(t, sender)
	req.Equal("error", failure["type"])
	req.Equal(server.ErrorCodeDeliveryFailed, failure["code"])
	req.NotEmpty(failure["message"])

	testhelpers.SendFrame(t, sender, u2.String(), "second try")
	ack := testhelpers.ReadFrame(t, sender)
	req.Equal("sent", ack["type"])
	req.Equal(stored.ID.String(), ack["id"])

	push := testhelpers.ReadFrame(t, recipient)
	req.Equal("second try", push["content"], "the failed message was never pushed")
	_, online := h.srv.Registry().Lookup(u1)
	req.True(online)
}

// TestReconnectSupersedesPreviousConnection verifies last-connect-wins: the
// old connection is closed with CloseSuperseded and messages go to the new one.
func TestReconnectSupersedesPreviousConnection(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()

	first := h.connect(t, u1)
	second := testhelpers.MustConnect(t, h.wsURL(t, u1))
	require.Equal(t, server.CloseSuperseded, testhelpers.ExpectClose(t, first))

	other := h.connect(t, u2)
	testhelpers.SendFrame(t, other, u1.String(), "which one?")
	require.Equal(t, "sent", testhelpers.ReadFrame(t, other)["type"])
	require.Equal(t, "which one?", testhelpers.ReadFrame(t, second)["content"])

	// The superseded session ending must not evict the new registration.
	_, online := h.srv.Registry().Lookup(u1)
	require.True(t, online)
	require.Equal(t, 2, h.srv.Registry().Count())
}

// TestReconnectWithoutClosingSuperseded verifies that with CloseSuperseded
// disabled the old socket stays open but stops receiving pushes.
func TestReconnectWithoutClosingSuperseded(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) { cfg.CloseSuperseded = false })
	u1, u2 := uuid.New(), uuid.New()

	first := h.connect(t, u1)
	handle, _ := h.srv.Registry().Lookup(u1)
	second := testhelpers.MustConnect(t, h.wsURL(t, u1))
	require.Eventually(t, func() bool {
		current, ok := h.srv.Registry().Lookup(u1)
		return ok && current != handle
	}, testhelpers.FrameTimeout, 5*time.Millisecond)

	other := h.connect(t, u2)
	testhelpers.SendFrame(t, other, u1.String(), "for the newest")
	require.Equal(t, "for the newest", testhelpers.ReadFrame(t, second)["content"])

	// The old connection can still send.
	testhelpers.SendFrame(t, first, u2.String(), "from the old socket")
	require.Equal(t, "sent", testhelpers.ReadFrame(t, first)["type"])
	require.Equal(t, "sent", testhelpers.ReadFrame(t, other)["type"])
	require.Equal(t, "from the old socket", testhelpers.ReadFrame(t, other)["content"])
}

// TestDisconnectDeregisters verifies that a client going away is removed
// from the registry and the active connection gauge.
func TestDisconnectDeregisters(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	conn := h.connect(t, userID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, conn.Close())

	h.waitOffline(t, userID)
	require.Eventually(t, func() bool {
		resp := testhelpers.MakeRequest(t, http.MethodGet, h.http.URL+"/metrics", "", nil)
		body := readBody(t, resp)
		return strings.Contains(body, "gochat_active_connections 0")
	}, testhelpers.FrameTimeout, 20*time.Millisecond)
}

// TestOversizedFrameEndsSession verifies the inbound size limit.
func TestOversizedFrameEndsSession(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) {
		cfg.MaxContentLength = 10
		cfg.MaxMessageSize = 256
	})
	u1, u2 := uuid.New(), uuid.New()
	conn := h.connect(t, u1)

	testhelpers.SendFrame(t, conn, u2.String(), strings.Repeat("a", 1024))

	require.Equal(t, websocket.CloseMessageTooBig, testhelpers.ExpectClose(t, conn))
	h.waitOffline(t, u1)
}

// TestRateLimitDropsExcessFrames verifies that frames over the burst are
// discarded without ending the session.
func TestRateLimitDropsExcessFrames(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	u1, u2 := uuid.New(), uuid.New()
	conn := h.connect(t, u1)

	for i := 0; i < 5; i++ {
		testhelpers.SendFrame(t, conn, u2.String(), fmt.Sprintf("burst %d", i))
	}
	require.Equal(t, "burst 0", testhelpers.ReadFrame(t, conn)["content"])
	require.Equal(t, "burst 1", testhelpers.ReadFrame(t, conn)["content"])
	testhelpers.ExpectNoFrame(t, conn, 200*time.Millisecond)

	history, err := h.store.ListBetween(context.Background(), u1, u2)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

// TestDisallowedOriginIsRejected verifies the handshake fails before any
// upgrade for origins outside the allow list.
func TestDisallowedOriginIsRejected(t *testing.T) {
	h := newHarness(t)

	for _, origin := range []string{"", "http://evil.example"} {
		headers := http.Header{}
		if origin != "" {
			headers.Set("Origin", origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(t, uuid.New()), headers)
		if conn != nil {
			_ = conn.Close()
		}
		require.ErrorIs(t, err, websocket.ErrBadHandshake, "origin %q", origin)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.Zero(t, h.srv.Registry().Count())
}

// TestWebSocketEndpointRejectsOtherMethods verifies /ws only serves GET.
func TestWebSocketEndpointRejectsOtherMethods(t *testing.T) {
	h := newHarness(t)

	resp := testhelpers.MakeRequest(t, http.MethodPost, h.http.URL+"/ws", "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

// TestShutdownClosesSessions verifies that shutdown closes every session
// with CloseGoingAway and refuses new ones.
func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	c1 := h.connect(t, u1)
	c2 := h.connect(t, u2)

	require.NoError(t, h.srv.Shutdown(2*time.Second))

	require.Equal(t, websocket.CloseGoingAway, testhelpers.ExpectClose(t, c1))
	require.Equal(t, websocket.CloseGoingAway, testhelpers.ExpectClose(t, c2))
	require.Zero(t, h.srv.Registry().Count())

	late := testhelpers.MustConnect(t, h.wsURL(t, uuid.New()))
	require.Equal(t, websocket.CloseGoingAway, testhelpers.ExpectClose(t, late))
	require.Zero(t, h.srv.Registry().Count())
}

// TestShutdownClosesSupersededSessions verifies that sessions replaced
// without being closed are still ended by shutdown.
func TestShutdownClosesSupersededSessions(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) { cfg.CloseSuperseded = false })
	userID := uuid.New()

	first := h.connect(t, userID)
	handle, _ := h.srv.Registry().Lookup(userID)
	second := testhelpers.MustConnect(t, h.wsURL(t, userID))
	require.Eventually(t, func() bool {
		current, ok := h.srv.Registry().Lookup(userID)
		return ok && current != handle
	}, testhelpers.FrameTimeout, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, h.srv.Shutdown(2*time.Second))
	require.Less(t, time.Since(start), time.Second)

	require.Equal(t, websocket.CloseGoingAway, testhelpers.ExpectClose(t, first))
	require.Equal(t, websocket.CloseGoingAway, testhelpers.ExpectClose(t, second))
}

// TestMaxLengthMultibyteContentIsAccepted verifies that content at the
// length limit fits in a frame even when every rune is multi-byte, and
// that content over the limit is ignored without ending the session.
func TestMaxLengthMultibyteContentIsAccepted(t *testing.T) {
	h := newHarness(t)
	u1, u2 := uuid.New(), uuid.New()
	sender := h.connect(t, u1)
	limit := h.srv.Config().MaxContentLength

	testhelpers.SendFrame(t, sender, u2.String(), strings.Repeat("€", limit+1))
	testhelpers.SendFrame(t, sender, u2.String(), strings.Repeat("€", limit))

	ack := testhelpers.ReadFrame(t, sender)
	require.Equal(t, "sent", ack["type"])
	require.Equal(t, strings.Repeat("€", limit), ack["content"])
}
