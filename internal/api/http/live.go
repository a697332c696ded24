package http

import (
	"net/http"

	auth "github.com/mind-engage/mindengage-progress/internal/auth/middleware"
	"github.com/mind-engage/mindengage-progress/internal/live"
)

// GET /live  (websocket) streams the caller's progress events.
func LiveHandler(hub *live.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, auth.SubjectFromContext(r.Context()))
	}
}
