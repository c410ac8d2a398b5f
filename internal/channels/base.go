package channels

import (
	"context"
	"sort"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/formatter"
)

// BasePlugin provides the platform-independent parts of Plugin.
// Platform implementations embed it and override what differs.
type BasePlugin struct {
	meta ChannelMeta
}

// NewBasePlugin creates a BasePlugin for meta.
func NewBasePlugin(meta ChannelMeta) BasePlugin {
	if meta.ID == "" {
		meta.ID = string(meta.Platform)
	}
	return BasePlugin{meta: meta}
}

func (b BasePlugin) Meta() ChannelMeta { return b.meta }

func (b BasePlugin) DefaultConfig() ChannelConfig { return DefaultChannelConfig() }

// ListAccountIDs returns the sorted account ids under accounts.<platform>.
func (b BasePlugin) ListAccountIDs(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	accounts := cfg.AccountsFor(b.meta.ID)
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveAccount returns the account or a disabled, empty one.
func (b BasePlugin) ResolveAccount(cfg *config.Config, accountID string) config.AccountConfig {
	if cfg == nil {
		return config.AccountConfig{}
	}
	acct, ok := cfg.AccountsFor(b.meta.ID)[accountID]
	if !ok {
		return config.AccountConfig{}
	}
	return acct
}

// HealthCheck reports the handle's active flag.
func (b BasePlugin) HealthCheck(_ context.Context, h *ChannelHandle) HealthStatus {
	if h != nil && h.Active() {
		return Healthy
	}
	return Disconnected
}

// StopAccount runs the handle's stop function.
func (b BasePlugin) StopAccount(_ context.Context, h *ChannelHandle) error {
	if h != nil {
		h.Stop()
	}
	return nil
}

func (b BasePlugin) FormatOutbound(markdown string) string {
	return formatter.FormatForPlatform(markdown, b.meta.Platform)
}

func (b BasePlugin) ChunkLimit() int {
	return formatter.ChunkLimit(b.meta.Platform)
}

// Platform returns the plugin's platform.
func (b BasePlugin) Platform() bus.Platform { return b.meta.Platform }
