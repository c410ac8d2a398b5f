package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// MessagesHandler accepts GatewayMessage JSON on POST /api/messages, for
// hosts that push messages over HTTP instead of the socket.
type MessagesHandler struct {
	submit Submitter
	token  string
}

// NewMessagesHandler creates the handler. An empty token disables auth.
func NewMessagesHandler(submit Submitter, token string) *MessagesHandler {
	return &MessagesHandler{submit: submit, token: token}
}

// RegisterRoutes registers the route on mux.
func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", h.auth(h.handleSubmit))
}

func (h *MessagesHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (h *MessagesHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var msg bus.GatewayMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxWebhookBody)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if msg.Platform == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}
	msg.Platform = bus.ParsePlatform(string(msg.Platform))

	id, err := h.submit.Submit(msg)
	switch {
	case errors.Is(err, bus.ErrDuplicate):
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "id": id})
	case errors.Is(err, bus.ErrQueueFull), errors.Is(err, bus.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
	}
}
