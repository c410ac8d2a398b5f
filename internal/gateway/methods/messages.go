package methods

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// MessageMethods handles message.submit, message.reply and message.prepare.
type MessageMethods struct {
	submit   Submitter
	manager  *channels.Manager
	preparer *pipeline.Preparer
	cfg      *config.Config
}

// NewMessageMethods creates the message method group.
func NewMessageMethods(submit Submitter, mgr *channels.Manager, p *pipeline.Preparer, cfg *config.Config) *MessageMethods {
	return &MessageMethods{submit: submit, manager: mgr, preparer: p, cfg: cfg}
}

// Register registers the message methods.
func (m *MessageMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodMessageSubmit, m.handleSubmit)
	router.Register(protocol.MethodMessageReply, m.handleReply)
	router.Register(protocol.MethodMessagePrepare, m.handlePrepare)
}

type submitParams struct {
	Message bus.GatewayMessage `json:"message"`
}

func (m *MessageMethods) handleSubmit(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p submitParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if p.Message.Platform == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message.platform is required"))
		return
	}
	p.Message.Platform = bus.ParsePlatform(string(p.Message.Platform))

	id, err := m.submit.Submit(p.Message)
	if err != nil {
		sendError(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"id": id, "status": protocol.StatusQueued}))
}

type replyParams struct {
	bus.GatewayResponse
	AccountID string `json:"account_id,omitempty"`
}

func (m *MessageMethods) handleReply(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p replyParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if p.ChannelID == "" || p.Content == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "channel_id and content are required"))
		return
	}
	p.Platform = bus.ParsePlatform(string(p.Platform))

	results, err := m.manager.Send(ctx, p.GatewayResponse, p.AccountID)
	if err != nil {
		sendError(client, req, err)
		return
	}
	failed := channels.FailedChunks(results)
	if len(failed) > 0 {
		slog.Warn("reply partially delivered", "platform", p.Platform, "channel", p.ChannelID, "failed", failed)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"results": results,
		"failed":  failed,
	}))
}

type prepareParams struct {
	Message     bus.GatewayMessage `json:"message"`
	AutoCreate  *bool              `json:"auto_create,omitempty"`
	AssistantID string             `json:"assistant_id,omitempty"`
}

func (m *MessageMethods) handlePrepare(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p prepareParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	p.Message.Platform = bus.ParsePlatform(string(p.Message.Platform))

	autoCreate, assistant := m.cfg.ThreadDefaults()
	if p.AutoCreate != nil {
		autoCreate = *p.AutoCreate
	}
	if p.AssistantID != "" {
		assistant = p.AssistantID
	}

	prepared, err := m.preparer.PrepareMessageForProcessing(ctx, p.Message, autoCreate, assistant)
	var rejected *pipeline.RejectedError
	switch {
	case errors.As(err, &rejected):
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRejected, rejected.Reason))
		return
	case errors.Is(err, pipeline.ErrNoThread):
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	case err != nil:
		sendError(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, prepared))
}
