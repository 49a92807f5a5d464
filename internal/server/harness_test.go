package server_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-dm/internal/auth"
	"github.com/Tyrowin/gochat-dm/internal/logging"
	"github.com/Tyrowin/gochat-dm/internal/message"
	"github.com/Tyrowin/gochat-dm/internal/server"
	"github.com/Tyrowin/gochat-dm/internal/store"
	"github.com/Tyrowin/gochat-dm/internal/testhelpers"
)

const (
	testSecret = "integration-secret"
	testIssuer = "gochat"
)

// harness runs a full server over httptest.
type harness struct {
	srv   *server.Server
	http  *httptest.Server
	store message.Store
}

func testConfig(opts ...func(*server.Config)) *server.Config {
	cfg := server.NewConfig()
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = testIssuer
	cfg.RateLimit.Burst = 100
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// newHarness starts a server backed by an in-memory badger store.
func newHarness(t *testing.T, opts ...func(*server.Config)) *harness {
	t.Helper()
	st, err := store.Open(store.DriverBadger, store.MemoryPath, logging.Discard())
	require.NoError(t, err)
	return newHarnessWithStore(t, st, true, opts...)
}

// newHarnessWithStore starts a server on st, closing it at the end of the
// test when owned is set.
func newHarnessWithStore(t *testing.T, st message.Store, owned bool, opts ...func(*server.Config)) *harness {
	t.Helper()
	cfg := testConfig(opts...)

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	require.NoError(t, err)

	srv := server.New(cfg, st, verifier, logging.Discard())
	h := &harness{
		srv:   srv,
		http:  testhelpers.CreateTestServer(t, srv.Routes()),
		store: st,
	}
	if owned {
		t.Cleanup(func() { _ = st.Close() })
	}
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })
	return h
}

func token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, testIssuer, userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func (h *harness) wsURL(t *testing.T, userID uuid.UUID) string {
	return testhelpers.WebSocketURL(t, h.http.URL, token(t, userID))
}

// connect opens a session for userID and waits until it is registered.
func (h *harness) connect(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn := testhelpers.MustConnect(t, h.wsURL(t, userID))
	h.waitOnline(t, userID)
	return conn
}

func (h *harness) waitOnline(t *testing.T, userID uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.srv.Registry().Lookup(userID)
		return ok
	}, testhelpers.FrameTimeout, 5*time.Millisecond, "user %s never came online", userID)
}

func (h *harness) waitOffline(t *testing.T, userID uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.srv.Registry().Lookup(userID)
		return !ok
	}, testhelpers.FrameTimeout, 5*time.Millisecond, "user %s never went offline", userID)
}
