package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/choreboard/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and subscribes the
// connection to its household's notifications. Requests from users without a
// household are rejected.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.HouseholdID == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"世帯に参加していません"}`))
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept", "error", err)
		return
	}

	client := NewClient(h, conn, ac.HouseholdID, ac.UserID)
	client.Run(r.Context())
}
