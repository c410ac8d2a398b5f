package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, since Telegram
// and Discord ids are often pasted as bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the clawgate gateway.
type Config struct {
	HTTPPort           int                                 `json:"httpPort" yaml:"httpPort"`
	WSPort             int                                 `json:"wsPort" yaml:"wsPort"`
	Host               string                              `json:"host,omitempty" yaml:"host,omitempty"`
	Enabled            bool                                `json:"enabled" yaml:"enabled"`
	Whitelist          WhitelistConfig                     `json:"whitelist" yaml:"whitelist"`
	AutoCreateThreads  bool                                `json:"autoCreateThreads" yaml:"autoCreateThreads"`
	DefaultAssistantID string                              `json:"defaultAssistantId,omitempty" yaml:"defaultAssistantId,omitempty"`
	Accounts           map[string]map[string]AccountConfig `json:"accounts,omitempty" yaml:"accounts,omitempty"` // platform → account id → account
	AuthToken          string                              `json:"authToken,omitempty" yaml:"authToken,omitempty"` // shared secret for the controlling socket
	AllowedOrigins     []string                            `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"` // WebSocket CORS whitelist (empty = allow all)
	Routes             []RouteBinding                      `json:"routes,omitempty" yaml:"routes,omitempty"`

	QueueCapacity      int    `json:"queueCapacity,omitempty" yaml:"queueCapacity,omitempty"`
	ReplayBufferSize   int    `json:"replayBufferSize,omitempty" yaml:"replayBufferSize,omitempty"`     // events kept per client for catch-up
	ReplayRetentionSec int    `json:"replayRetentionSec,omitempty" yaml:"replayRetentionSec,omitempty"` // how long a detached client's buffer survives
	InboundDebounceMs  int    `json:"inboundDebounceMs,omitempty" yaml:"inboundDebounceMs,omitempty"`   // merge rapid messages from same sender (0 or -1 = disabled)
	DedupeTTLSeconds   int    `json:"dedupeTTLSeconds,omitempty" yaml:"dedupeTTLSeconds,omitempty"`
	HealthCheckCron    string `json:"healthCheckCron,omitempty" yaml:"healthCheckCron,omitempty"`

	OutboundRateLimit RateLimitConfig `json:"outboundRateLimit,omitempty" yaml:"outboundRateLimit,omitempty"`
	Store             StoreConfig     `json:"store,omitempty" yaml:"store,omitempty"`
	Telemetry         TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	mu sync.RWMutex
}

// WhitelistConfig restricts which inbound messages are processed.
// An empty list places no restriction on that dimension.
type WhitelistConfig struct {
	Enabled    bool                `json:"enabled" yaml:"enabled"`
	UserIDs    FlexibleStringSlice `json:"userIds,omitempty" yaml:"userIds,omitempty"`
	ChannelIDs FlexibleStringSlice `json:"channelIds,omitempty" yaml:"channelIds,omitempty"`
	GuildIDs   FlexibleStringSlice `json:"guildIds,omitempty" yaml:"guildIds,omitempty"`
	RoleIDs    FlexibleStringSlice `json:"roleIds,omitempty" yaml:"roleIds,omitempty"`
}

// AccountConfig is one configured account on a platform. Settings are
// platform specific and decoded by the owning plugin.
type AccountConfig struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Decode unmarshals Settings into v (a pointer to the plugin's settings struct).
func (a AccountConfig) Decode(v any) error {
	if len(a.Settings) == 0 {
		return nil
	}
	data, err := json.Marshal(a.Settings)
	if err != nil {
		return fmt.Errorf("encode account settings: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode account settings: %w", err)
	}
	return nil
}

// RouteBinding binds an assistant to messages matching one routing granularity.
// Priority is one of: peer, peer_parent, guild, team, account, channel, default.
type RouteBinding struct {
	AgentID  string `json:"agentId" yaml:"agentId"`
	Priority string `json:"priority" yaml:"priority"`
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"` // restrict to one platform (empty = any)
	Match    string `json:"match,omitempty" yaml:"match,omitempty"`       // id compared against the priority's key field
}

// RateLimitConfig paces outbound sends per platform.
type RateLimitConfig struct {
	PerSecond float64 `json:"perSecond,omitempty" yaml:"perSecond,omitempty"`
	Burst     int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// StoreConfig selects where thread mappings are persisted.
// Driver is one of "memory" (default), "sqlite", "postgres", "redis".
type StoreConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // host:port of the OTLP collector
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
}

// AccountsFor returns the configured accounts of one platform.
func (c *Config) AccountsFor(platform string) map[string]AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Accounts[platform]
}

// WhitelistSnapshot returns a copy of the whitelist safe to use without locking.
func (c *Config) WhitelistSnapshot() WhitelistConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.Whitelist
	w.UserIDs = append(FlexibleStringSlice(nil), w.UserIDs...)
	w.ChannelIDs = append(FlexibleStringSlice(nil), w.ChannelIDs...)
	w.GuildIDs = append(FlexibleStringSlice(nil), w.GuildIDs...)
	w.RoleIDs = append(FlexibleStringSlice(nil), w.RoleIDs...)
	return w
}

// RoutesSnapshot returns a copy of the route bindings.
func (c *Config) RoutesSnapshot() []RouteBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RouteBinding(nil), c.Routes...)
}

// ApplyReloadable copies the hot-reloadable sections (whitelist, routes,
// thread defaults) from next.
func (c *Config) ApplyReloadable(next *Config) {
	w := next.WhitelistSnapshot()
	routes := next.RoutesSnapshot()

	next.mu.RLock()
	autoCreate, assistant := next.AutoCreateThreads, next.DefaultAssistantID
	next.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Whitelist = w
	c.Routes = routes
	c.AutoCreateThreads = autoCreate
	c.DefaultAssistantID = assistant
}

// ThreadDefaults returns the auto-create flag and default assistant id.
func (c *Config) ThreadDefaults() (autoCreate bool, assistantID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AutoCreateThreads, c.DefaultAssistantID
}
