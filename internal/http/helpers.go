// Package http holds the gateway's HTTP handlers: platform webhooks and the
// direct message submission API.
package http

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// Submitter accepts an inbound message into the gateway and returns its id.
// Errors are bus.ErrDuplicate, bus.ErrQueueFull or bus.ErrQueueClosed.
type Submitter interface {
	Submit(msg bus.GatewayMessage) (string, error)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
