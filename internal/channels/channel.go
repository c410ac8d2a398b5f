// Package channels provides the platform plugin abstraction for the gateway.
// Each supported platform (Discord, Slack, Telegram) implements Plugin once;
// a Registry maps platform ids to plugins, the Manager runs configured
// accounts and the OutboundAdapter delivers formatted, chunked replies.
package channels

import (
	"context"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// ChannelMeta is the static identity of a plugin.
type ChannelMeta struct {
	ID          string       `json:"id"`
	Platform    bus.Platform `json:"platform"`
	DisplayName string       `json:"display_name"`
	Order       int          `json:"order"` // display position hint, lower first
	Description string       `json:"description,omitempty"`
}

// ChannelConfig holds connection tuning shared by a plugin's accounts.
type ChannelConfig struct {
	ReconnectInterval    time.Duration `json:"reconnect_interval"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	PollInterval         time.Duration `json:"poll_interval"`   // REST polling tick, when the plugin polls
	RequestTimeout       time.Duration `json:"request_timeout"` // bound on every outbound platform call
	BatchSize            int           `json:"batch_size"`      // max messages fetched per poll
}

// DefaultChannelConfig is the baseline every plugin starts from.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		PollInterval:         5 * time.Second,
		RequestTimeout:       15 * time.Second,
		BatchSize:            50,
	}
}

// InboundSink receives messages produced by a running account (poll loops,
// long polling). It returns an error when the message could not be queued.
type InboundSink func(ctx context.Context, msg bus.GatewayMessage) error

// StartParams is passed to Plugin.StartAccount.
type StartParams struct {
	AccountID string
	Account   config.AccountConfig
	Config    ChannelConfig
	Sink      InboundSink // may be nil for webhook-only accounts
}

// HealthStatus is the result of a health check.
type HealthStatus string

const (
	Healthy      HealthStatus = "healthy"
	Disconnected HealthStatus = "disconnected"
)

// Plugin is implemented once per platform.
type Plugin interface {
	// Meta returns static identity. No side effects.
	Meta() ChannelMeta

	DefaultConfig() ChannelConfig

	// ValidateConfig checks platform requirements of one account and returns
	// a Configuration PluginError when they are not met.
	ValidateConfig(acct config.AccountConfig) error

	// ListAccountIDs returns the account ids configured for this platform, sorted.
	ListAccountIDs(cfg *config.Config) []string

	// ResolveAccount returns the account with the given id. Unknown ids
	// resolve to a disabled, empty account.
	ResolveAccount(cfg *config.Config, accountID string) config.AccountConfig

	IsConfigured(acct config.AccountConfig, cfg *config.Config) bool

	// StartAccount validates the account and returns a live handle.
	StartAccount(ctx context.Context, params StartParams) (*ChannelHandle, error)
	StopAccount(ctx context.Context, h *ChannelHandle) error
	HealthCheck(ctx context.Context, h *ChannelHandle) HealthStatus

	// ParseInbound converts a platform-native webhook/update payload.
	ParseInbound(payload []byte) (bus.GatewayMessage, error)

	// SendOutbound delivers one already formatted chunk.
	SendOutbound(ctx context.Context, h *ChannelHandle, resp bus.GatewayResponse) error

	FormatOutbound(markdown string) string
	ChunkLimit() int
}

// RequestVerifier is implemented by plugins whose webhooks carry a
// signature or shared secret.
type RequestVerifier interface {
	VerifyRequest(acct config.AccountConfig, header http.Header, body []byte) error
}

// ChallengeResponder is implemented by plugins whose webhook endpoint must
// answer a handshake (e.g. Slack url_verification). ok is false for
// ordinary payloads.
type ChallengeResponder interface {
	Challenge(body []byte) (response string, ok bool)
}
