package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/formatter"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/clawgate/internal/channels")

// DeliveryResult reports the outcome of one chunk.
type DeliveryResult struct {
	ChunkIndex int    `json:"chunk_index"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`

	Err error `json:"-"`
}

// FailedChunks returns the indices of failed results.
func FailedChunks(results []DeliveryResult) []int {
	var out []int
	for _, r := range results {
		if !r.Success {
			out = append(out, r.ChunkIndex)
		}
	}
	return out
}

// OutboundAdapter formats a response for its platform, splits it into
// chunks and sends each chunk. Platforms are paced independently.
type OutboundAdapter struct {
	perSecond rate.Limit
	burst     int
	metrics   *metrics.Metrics

	mu       sync.Mutex
	limiters map[bus.Platform]*rate.Limiter
}

// NewOutboundAdapter creates an adapter. A non-positive PerSecond disables
// pacing. m may be nil.
func NewOutboundAdapter(rl config.RateLimitConfig, m *metrics.Metrics) *OutboundAdapter {
	limit := rate.Inf
	if rl.PerSecond > 0 {
		limit = rate.Limit(rl.PerSecond)
	}
	burst := rl.Burst
	if burst < 1 {
		burst = 1
	}
	return &OutboundAdapter{
		perSecond: limit,
		burst:     burst,
		metrics:   m,
		limiters:  make(map[bus.Platform]*rate.Limiter),
	}
}

func (a *OutboundAdapter) limiter(p bus.Platform) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[p]
	if !ok {
		l = rate.NewLimiter(a.perSecond, a.burst)
		a.limiters[p] = l
	}
	return l
}

// PrepareChunks formats content with the plugin's dialect and splits it at
// the plugin's chunk limit.
func PrepareChunks(p Plugin, content string) []string {
	return formatter.ChunkMessage(p.FormatOutbound(content), p.ChunkLimit())
}

// FormatAndSend sends resp through plugin p, one SendOutbound call per
// chunk. Only the first chunk carries ReplyTo. A failed chunk does not stop
// the remaining ones; there is no retry at this layer.
func (a *OutboundAdapter) FormatAndSend(ctx context.Context, p Plugin, h *ChannelHandle, resp bus.GatewayResponse) []DeliveryResult {
	platform := p.Meta().Platform
	ctx, span := tracer.Start(ctx, "outbound.format_and_send")
	defer span.End()

	chunks := PrepareChunks(p, resp.Content)
	span.SetAttributes(
		attribute.String("platform", string(platform)),
		attribute.String("channel.id", resp.ChannelID),
		attribute.Int("chunks", len(chunks)),
	)

	lim := a.limiter(platform)
	results := make([]DeliveryResult, len(chunks))
	failed := 0
	for i, chunk := range chunks {
		part := resp
		part.Content = chunk
		if i > 0 {
			part.ReplyTo = ""
		}

		err := lim.Wait(ctx)
		if err == nil {
			start := time.Now()
			err = p.SendOutbound(ctx, h, part)
			if a.metrics != nil {
				a.metrics.DeliveryDuration.WithLabelValues(string(platform)).Observe(time.Since(start).Seconds())
			}
		} else {
			err = DeliveryError(platform, "rate_limit", err)
		}

		results[i] = DeliveryResult{ChunkIndex: i, Success: err == nil, Err: err}
		if err != nil {
			failed++
			results[i].Error = err.Error()
			slog.Warn("outbound chunk failed",
				"platform", platform, "channel", resp.ChannelID,
				"chunk", i, "of", len(chunks), "error", err)
		} else if h != nil {
			h.RecordMessage()
		}
		a.count(platform, err == nil)
	}

	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d/%d chunks failed", failed, len(chunks)))
	}
	return results
}

func (a *OutboundAdapter) count(p bus.Platform, ok bool) {
	if a.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	a.metrics.DeliveriesTotal.WithLabelValues(string(p), result).Inc()
}
