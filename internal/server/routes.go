// Package server wires HTTP handlers into an httprouter.Router for the GoChat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Routes returns the HTTP handler serving the WebSocket endpoint, health and
// readiness probes, metrics, the history API and the test page.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()

	router.GET("/ws", s.WebSocketHandler)
	router.GET("/", HealthHandler)
	router.GET("/healthz", HealthHandler)
	router.GET("/readyz", s.ReadyHandler)
	router.GET("/test", s.TestPageHandler)
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())

	router.GET("/api/conversations/:peer/messages", s.ListConversationHandler)
	router.PATCH("/api/messages/:id", s.EditMessageHandler)
	router.DELETE("/api/messages/:id", s.DeleteMessageHandler)

	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.log.Error("handler panic", "path", r.URL.Path, "panic", v)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
	return router
}
