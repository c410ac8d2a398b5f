// Package bus holds the message types that flow through the gateway and the
// in-process plumbing that moves them: the bounded inbound queue, the
// debouncer, the dedupe cache and the event publisher abstraction.
package bus

import "strings"

// Platform identifies an external messaging platform.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformTelegram Platform = "telegram"
	PlatformUnknown  Platform = "unknown"
)

// KnownPlatforms lists every supported platform in display order.
var KnownPlatforms = []Platform{PlatformDiscord, PlatformSlack, PlatformTelegram}

// ParsePlatform maps a platform id to a Platform. Anything unrecognised
// becomes PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discord":
		return PlatformDiscord
	case "slack":
		return PlatformSlack
	case "telegram":
		return PlatformTelegram
	default:
		return PlatformUnknown
	}
}

func (p Platform) String() string {
	if p == "" {
		return string(PlatformUnknown)
	}
	return string(p)
}

// Known reports whether p is one of the supported platforms.
func (p Platform) Known() bool {
	return p == PlatformDiscord || p == PlatformSlack || p == PlatformTelegram
}

// GatewayMessage is a raw inbound message as received from a platform.
type GatewayMessage struct {
	ID        string         `json:"id"`
	Platform  Platform       `json:"platform"`
	UserID    string         `json:"user_id"`
	ChannelID string         `json:"channel_id"`
	GuildID   string         `json:"guild_id,omitempty"` // Discord guild / Slack team; empty when absent
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp"` // ms since epoch
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Attachment describes a file attached to an inbound message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// NormalizedMessage is the platform-independent form of a GatewayMessage.
type NormalizedMessage struct {
	ID          string       `json:"id"`
	Platform    Platform     `json:"platform"`
	UserID      string       `json:"user_id"`
	ChannelID   string       `json:"channel_id"`
	Text        string       `json:"text"`
	Mentions    []string     `json:"mentions"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   int64        `json:"timestamp"`
}

// GatewayResponse is an outbound reply headed for a platform.
type GatewayResponse struct {
	Platform  Platform `json:"platform"`
	ChannelID string   `json:"channel_id"`
	Content   string   `json:"content"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
}

// MetaString returns a string metadata value, or "" when missing or not a string.
func (m GatewayMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// Event is a server-side event fanned out to controlling clients.
type Event struct {
	Name     string   `json:"name"`
	Platform Platform `json:"platform,omitempty"` // subscription filter key; empty = global
	Payload  any      `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the channel manager and the inbound consumer to decouple from the
// concrete WebSocket dispatcher.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
