package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"cartsync/internal/model"
	"cartsync/internal/session"
)

type startSessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Active    bool   `json:"active"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SessionActive bool   `json:"session_active"`
	CartLoaded    bool   `json:"cart_loaded"`
}

// handleStartSession binds the cart to a shopper token. The token comes from
// the body or, failing that, the Authorization header. The cart loads in the
// background once the session becomes active.
// PUT /session
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	token := req.Token
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("Authorization"))
	}

	if err := h.sessions.SetToken(token); err != nil {
		reason := "malformed or empty"
		if errors.Is(err, session.ErrTokenExpired) {
			reason = "expired"
		}
		h.writeError(w, model.NewBadRequestError("token", reason))
		return
	}

	h.logger.InfoContext(r.Context(), "session started")
	h.writeJSON(w, http.StatusOK, h.sessionStatus())
}

// handleEndSession signs the shopper out, discarding the local cart.
// DELETE /session
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear()
	h.logger.InfoContext(r.Context(), "session ended")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionStatus() sessionResponse {
	resp := sessionResponse{Active: h.sessions.IsActive()}
	if exp := h.sessions.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	return resp
}

// handleHealth returns the health status of the service.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       h.opts.Version,
		SessionActive: h.sessions.IsActive(),
		CartLoaded:    h.cart.Loaded(),
	})
}
