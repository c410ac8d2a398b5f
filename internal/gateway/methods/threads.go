package methods

import (
	"context"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
	"github.com/nextlevelbuilder/clawgate/internal/sessions"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// ThreadsMethods handles threads.list, threads.add and threads.remove.
type ThreadsMethods struct {
	threads  *sessions.ThreadManager
	preparer *pipeline.Preparer
	events   bus.EventPublisher
}

// NewThreadsMethods creates the thread method group.
func NewThreadsMethods(threads *sessions.ThreadManager, p *pipeline.Preparer, events bus.EventPublisher) *ThreadsMethods {
	return &ThreadsMethods{threads: threads, preparer: p, events: events}
}

// Register registers the thread methods.
func (m *ThreadsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodThreadsList, m.handleList)
	router.Register(protocol.MethodThreadsAdd, m.handleAdd)
	router.Register(protocol.MethodThreadsRemove, m.handleRemove)
}

type threadParams struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
	ThreadID   string `json:"thread_id"`
}

func (m *ThreadsMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p threadParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	var filter *bus.Platform
	if p.Platform != "" {
		pl := bus.ParsePlatform(p.Platform)
		filter = &pl
	}
	threads := m.threads.List(filter)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"threads": threads,
		"count":   len(threads),
	}))
}

func (m *ThreadsMethods) handleAdd(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p threadParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if p.Platform == "" || p.ExternalID == "" || p.ThreadID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "platform, external_id and thread_id are required"))
		return
	}
	platform := bus.ParsePlatform(p.Platform)

	tm, err := m.preparer.ConfirmThread(ctx, platform, p.ExternalID, p.ThreadID)
	if err != nil {
		sendError(client, req, err)
		return
	}
	m.events.Broadcast(bus.Event{Name: protocol.EventThreadCreated, Platform: platform, Payload: tm})
	client.SendResponse(protocol.NewOKResponse(req.ID, tm))
}

func (m *ThreadsMethods) handleRemove(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p threadParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	platform := bus.ParsePlatform(p.Platform)
	if !m.threads.Remove(ctx, platform, p.ExternalID) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no thread mapped for "+p.Platform+"/"+p.ExternalID))
		return
	}
	m.events.Broadcast(bus.Event{
		Name:     protocol.EventThreadRemoved,
		Platform: platform,
		Payload:  map[string]string{"platform": string(platform), "external_id": p.ExternalID},
	})
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"removed": true}))
}
