package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
)

// MaxWebhookBody bounds inbound webhook payloads.
const MaxWebhookBody = 1 << 20

// WebhookHandler receives platform webhook/update payloads on
// POST /webhooks/{platform}/{account}.
type WebhookHandler struct {
	registry *channels.Registry
	cfg      *config.Config
	submit   Submitter
	limiter  *channels.WebhookRateLimiter
	metrics  *metrics.Metrics
}

// NewWebhookHandler creates a webhook handler. limiter and m may be nil.
func NewWebhookHandler(reg *channels.Registry, cfg *config.Config, submit Submitter, limiter *channels.WebhookRateLimiter, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{registry: reg, cfg: cfg, submit: submit, limiter: limiter, metrics: m}
}

// RegisterRoutes registers the webhook route on mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{platform}/{account}", h.handleWebhook)
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platformID := r.PathValue("platform")
	accountID := r.PathValue("account")

	status := h.serve(w, r, platformID, accountID)
	if h.metrics != nil {
		h.metrics.WebhookRequests.WithLabelValues(platformID, strconv.Itoa(status)).Inc()
	}
}

// serve handles one webhook and returns the status code written.
func (h *WebhookHandler) serve(w http.ResponseWriter, r *http.Request, platformID, accountID string) int {
	plugin, err := h.registry.Get(platformID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown platform")
		return http.StatusNotFound
	}

	if h.limiter != nil && !h.limiter.Allow(platformID+"|"+remoteIP(r)) {
		slog.Warn("security.webhook_rate_limited", "platform", platformID, "remote", remoteIP(r))
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return http.StatusTooManyRequests
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return http.StatusRequestEntityTooLarge
	}

	acct := plugin.ResolveAccount(h.cfg, accountID)
	if !acct.Enabled {
		writeError(w, http.StatusNotFound, "unknown account")
		return http.StatusNotFound
	}

	if v, ok := plugin.(channels.RequestVerifier); ok {
		if err := v.VerifyRequest(acct, r.Header, body); err != nil {
			slog.Warn("security.webhook_rejected", "platform", platformID, "account", accountID, "remote", remoteIP(r), "error", err)
			writeError(w, http.StatusUnauthorized, "verification failed")
			return http.StatusUnauthorized
		}
	}

	if c, ok := plugin.(channels.ChallengeResponder); ok {
		if resp, ok := c.Challenge(body); ok {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, resp)
			return http.StatusOK
		}
	}

	msg, err := plugin.ParseInbound(body)
	if errors.Is(err, channels.ErrIgnored) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return http.StatusOK
	}
	if err != nil {
		slog.Debug("webhook payload rejected", "platform", platformID, "error", err)
		h.metrics.Inbound(platformID, metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["account_id"] = accountID

	id, err := h.submit.Submit(msg)
	switch {
	case errors.Is(err, bus.ErrDuplicate):
		// Platforms retry until they see a 2xx.
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "id": id})
		return http.StatusOK
	case errors.Is(err, bus.ErrQueueFull), errors.Is(err, bus.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return http.StatusServiceUnavailable
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
	return http.StatusAccepted
}
