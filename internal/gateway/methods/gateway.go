package methods

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/internal/sessions"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// GatewayMethods handles gateway.* and events.since.
type GatewayMethods struct {
	dispatcher *gateway.EventDispatcher
	queue      *bus.MessageQueue
	manager    *channels.Manager
	threads    *sessions.ThreadManager
	started    time.Time
}

// NewGatewayMethods creates the gateway method group. manager and threads may be nil.
func NewGatewayMethods(d *gateway.EventDispatcher, q *bus.MessageQueue, mgr *channels.Manager, threads *sessions.ThreadManager) *GatewayMethods {
	return &GatewayMethods{dispatcher: d, queue: q, manager: mgr, threads: threads, started: time.Now()}
}

// Register registers the gateway methods.
func (m *GatewayMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodPing, m.handlePing)
	router.Register(protocol.MethodStatus, m.handleStatus)
	router.Register(protocol.MethodSubscribe, m.handleSubscribe)
	router.Register(protocol.MethodUnsubscribe, m.handleUnsubscribe)
	router.Register(protocol.MethodEventsSince, m.handleEventsSince)
}

func (m *GatewayMethods) handlePing(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"pong": true,
		"time": time.Now().UnixMilli(),
	}))
}

func (m *GatewayMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	attached, detached := m.dispatcher.ClientCount()
	status := map[string]any{
		"protocol":   protocol.ProtocolVersion,
		"uptime_sec": int64(time.Since(m.started).Seconds()),
		"last_seq":   m.dispatcher.LastSeq(),
		"clients":    map[string]int{"attached": attached, "detached": detached},
		"queue":      map[string]int{"len": m.queue.Len(), "cap": m.queue.Cap()},
	}
	if m.manager != nil {
		status["platforms"] = m.manager.Statuses()
	}
	if m.threads != nil {
		status["threads"] = m.threads.Count(nil)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, status))
}

type subscribeParams struct {
	Platform string `json:"platform"`
}

func (m *GatewayMethods) handleSubscribe(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	m.changeSubscription(client, req, true)
}

func (m *GatewayMethods) handleUnsubscribe(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	m.changeSubscription(client, req, false)
}

func (m *GatewayMethods) changeSubscription(client *gateway.Client, req *protocol.RequestFrame, add bool) {
	var p subscribeParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if !gateway.ValidSubscription(p.Platform) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "platform must be a platform id or \"*\""))
		return
	}

	var err error
	if add {
		err = m.dispatcher.AddSubscription(client.ID(), p.Platform)
	} else {
		err = m.dispatcher.RemoveSubscription(client.ID(), p.Platform)
	}
	if err != nil {
		sendError(client, req, err)
		return
	}
	subs, _ := m.dispatcher.Subscriptions(client.ID())
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"subscriptions": subs}))
}

type eventsSinceParams struct {
	Seq uint64 `json:"seq"`
}

func (m *GatewayMethods) handleEventsSince(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p eventsSinceParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	events, err := m.dispatcher.EventsSince(client.ID(), p.Seq)
	if err != nil {
		sendError(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"events":   events,
		"last_seq": m.dispatcher.LastSeq(),
	}))
}
