package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// RejectedPayload is the payload of message.rejected.
type RejectedPayload struct {
	ID        string       `json:"id"`
	Platform  bus.Platform `json:"platform"`
	UserID    string       `json:"user_id"`
	ChannelID string       `json:"channel_id"`
	Stage     string       `json:"stage"`
	Reason    string       `json:"reason"`
}

// Consumer drains the inbound queue: it merges rapid messages, prepares
// each one and publishes message.received or message.rejected.
type Consumer struct {
	cfg      *config.Config
	preparer *pipeline.Preparer
	events   bus.EventPublisher
	metrics  *metrics.Metrics
}

// NewConsumer creates a consumer. m may be nil.
func NewConsumer(cfg *config.Config, p *pipeline.Preparer, events bus.EventPublisher, m *metrics.Metrics) *Consumer {
	return &Consumer{cfg: cfg, preparer: p, events: events, metrics: m}
}

// Run processes messages until ctx is done or the queue is closed and
// drained. Open debounce windows are flushed before it returns.
func (c *Consumer) Run(ctx context.Context, qc *bus.QueueConsumer) {
	flushCtx := context.WithoutCancel(ctx)
	window := time.Duration(c.cfg.InboundDebounceMs) * time.Millisecond
	deb := bus.NewInboundDebouncer(window, func(msg bus.GatewayMessage) {
		c.Process(flushCtx, msg)
	})
	defer deb.Stop()

	for {
		msg, ok := qc.Recv(ctx)
		if !ok {
			return
		}
		deb.Push(msg)
	}
}

// Process runs one message through the preparer and publishes the outcome.
func (c *Consumer) Process(ctx context.Context, msg bus.GatewayMessage) {
	autoCreate, assistant := c.cfg.ThreadDefaults()
	prepared, err := c.preparer.PrepareMessageForProcessing(ctx, msg, autoCreate, assistant)

	var rejected *pipeline.RejectedError
	switch {
	case errors.As(err, &rejected):
		slog.Info("message rejected", "platform", msg.Platform, "id", msg.ID, "stage", rejected.Stage, "reason", rejected.Reason)
		c.metrics.Inbound(msg.Platform.String(), metrics.OutcomeRejected)
		c.events.Broadcast(bus.Event{
			Name:     protocol.EventMessageRejected,
			Platform: msg.Platform,
			Payload: RejectedPayload{
				ID:        msg.ID,
				Platform:  msg.Platform,
				UserID:    msg.UserID,
				ChannelID: msg.ChannelID,
				Stage:     string(rejected.Stage),
				Reason:    rejected.Reason,
			},
		})
		return
	case errors.Is(err, pipeline.ErrNoThread):
		// The host may still map the channel with threads.add.
		slog.Debug("message has no thread", "platform", msg.Platform, "channel", msg.ChannelID)
	case err != nil:
		slog.Error("prepare message failed", "platform", msg.Platform, "id", msg.ID, "error", err)
		return
	}

	c.events.Broadcast(bus.Event{
		Name:     protocol.EventMessageReceived,
		Platform: msg.Platform,
		Payload:  prepared,
	})
}
