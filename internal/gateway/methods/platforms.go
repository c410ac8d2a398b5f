package methods

import (
	"context"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// PlatformsMethods handles platforms.list, platforms.start and platforms.stop.
type PlatformsMethods struct {
	manager *channels.Manager
	cfg     *config.Config
}

// NewPlatformsMethods creates the platform method group.
func NewPlatformsMethods(mgr *channels.Manager, cfg *config.Config) *PlatformsMethods {
	return &PlatformsMethods{manager: mgr, cfg: cfg}
}

// Register registers the platform methods.
func (m *PlatformsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodPlatformsList, m.handleList)
	router.Register(protocol.MethodPlatformsStart, m.handleStart)
	router.Register(protocol.MethodPlatformsStop, m.handleStop)
}

// AccountInfo describes one configured account. Credentials are never included.
type AccountInfo struct {
	AccountID    string `json:"account_id"`
	Enabled      bool   `json:"enabled"`
	Configured   bool   `json:"configured"`
	Running      bool   `json:"running"`
	Active       bool   `json:"active"`
	MessageCount int64  `json:"message_count"`
}

// PlatformInfo describes one registered plugin.
type PlatformInfo struct {
	channels.ChannelMeta
	ChunkLimit int           `json:"chunk_limit"`
	Accounts   []AccountInfo `json:"accounts"`
}

func (m *PlatformsMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	plugins := m.manager.Registry().List()
	out := make([]PlatformInfo, 0, len(plugins))
	for _, p := range plugins {
		meta := p.Meta()
		info := PlatformInfo{ChannelMeta: meta, ChunkLimit: p.ChunkLimit(), Accounts: []AccountInfo{}}
		for _, id := range p.ListAccountIDs(m.cfg) {
			acct := p.ResolveAccount(m.cfg, id)
			ai := AccountInfo{
				AccountID:  id,
				Enabled:    acct.Enabled,
				Configured: p.IsConfigured(acct, m.cfg),
			}
			if h, ok := m.manager.Handle(meta.Platform, id); ok {
				st := h.Status()
				ai.Running = true
				ai.Active = st.Active
				ai.MessageCount = st.MessageCount
			}
			info.Accounts = append(info.Accounts, ai)
		}
		out = append(out, info)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"platforms": out}))
}

type accountParams struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
}

func (p accountParams) valid() bool { return p.Platform != "" && p.AccountID != "" }

func (m *PlatformsMethods) handleStart(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p accountParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if !p.valid() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "platform and account_id are required"))
		return
	}
	platform := bus.ParsePlatform(p.Platform)
	if err := m.manager.StartAccount(ctx, platform, p.AccountID); err != nil {
		sendError(client, req, err)
		return
	}
	h, _ := m.manager.Handle(platform, p.AccountID)
	client.SendResponse(protocol.NewOKResponse(req.ID, h.Status()))
}

func (m *PlatformsMethods) handleStop(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var p accountParams
	if err := decodeParams(req, &p); err != nil {
		badParams(client, req, err)
		return
	}
	if !p.valid() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "platform and account_id are required"))
		return
	}
	if err := m.manager.StopAccount(ctx, bus.ParsePlatform(p.Platform), p.AccountID); err != nil {
		sendError(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"stopped": true}))
}
