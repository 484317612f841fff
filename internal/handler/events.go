package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// keepAliveInterval spaces SSE comment lines so idle proxies keep the stream open.
const keepAliveInterval = 25 * time.Second

// handleEvents streams the cart as Server-Sent Events: one "cart" event with
// the current view on connect, then one per change notification. Bursts of
// notifications that arrive while an event is being written are coalesced.
// GET /cart/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// the stream outlives the server's WriteTimeout
	_ = rc.SetWriteDeadline(time.Time{})

	changes, stop := h.cart.Notifier().Channel()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		data, err := json.Marshal(h.currentView())
		if err != nil {
			h.logger.Error("failed to encode event", slog.String("error", err.Error()))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send() {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !send() {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
