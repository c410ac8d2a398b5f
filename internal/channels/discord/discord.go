// Package discord implements the Discord platform plugin on top of
// bwmarrin/discordgo. An account either posts through an incoming webhook
// (send only) or authenticates as a bot, in which case it can also poll
// configured channels for new messages.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
)

// Settings are the account settings under accounts.discord.<id>.settings.
type Settings struct {
	BotToken     string                     `json:"bot_token,omitempty"`
	WebhookURL   string                     `json:"webhook_url,omitempty"`
	PollChannels config.FlexibleStringSlice `json:"poll_channels,omitempty"`
}

// api is the subset of *discordgo.Session the plugin uses.
type api interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Plugin is the Discord channels.Plugin.
type Plugin struct {
	channels.BasePlugin
	newAPI func(botToken string) (api, error)
}

// New creates the Discord plugin.
func New() *Plugin {
	return &Plugin{
		BasePlugin: channels.NewBasePlugin(channels.ChannelMeta{
			Platform:    bus.PlatformDiscord,
			DisplayName: "Discord",
			Order:       1,
			Description: "Discord bot or incoming webhook",
		}),
		newAPI: func(botToken string) (api, error) {
			auth := ""
			if botToken != "" {
				auth = "Bot " + botToken
			}
			s, err := discordgo.New(auth)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// conn is the per-account state stored on the handle.
type conn struct {
	api          api
	settings     Settings
	webhookID    string
	webhookToken string
	botUserID    string

	alive   atomic.Bool
	cursors map[string]string // channel id → newest message id seen
	done    chan struct{}
}

func decodeSettings(acct config.AccountConfig) (Settings, error) {
	var s Settings
	if err := acct.Decode(&s); err != nil {
		return s, channels.ConfigError(bus.PlatformDiscord, "decode", err)
	}
	return s, nil
}

func (p *Plugin) ValidateConfig(acct config.AccountConfig) error {
	s, err := decodeSettings(acct)
	if err != nil {
		return err
	}
	if s.BotToken == "" && s.WebhookURL == "" {
		return channels.ConfigError(bus.PlatformDiscord, "validate", errors.New("bot_token or webhook_url is required"))
	}
	if s.WebhookURL != "" {
		if _, _, err := parseWebhookURL(s.WebhookURL); err != nil {
			return channels.ConfigError(bus.PlatformDiscord, "validate", err)
		}
	}
	if len(s.PollChannels) > 0 && s.BotToken == "" {
		return channels.ConfigError(bus.PlatformDiscord, "validate", errors.New("poll_channels requires bot_token"))
	}
	return nil
}

func (p *Plugin) IsConfigured(acct config.AccountConfig, _ *config.Config) bool {
	return p.ValidateConfig(acct) == nil
}

// parseWebhookURL extracts id and token from
// https://discord.com/api/webhooks/{id}/{token}.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook_url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "webhooks" && i+2 < len(parts) {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook_url: expected /api/webhooks/{id}/{token}")
}

func (p *Plugin) StartAccount(ctx context.Context, params channels.StartParams) (*channels.ChannelHandle, error) {
	if err := p.ValidateConfig(params.Account); err != nil {
		return nil, err
	}
	s, _ := decodeSettings(params.Account)

	a, err := p.newAPI(s.BotToken)
	if err != nil {
		return nil, channels.ConfigError(bus.PlatformDiscord, "start", fmt.Errorf("create discord session: %w", err))
	}
	c := &conn{api: a, settings: s, cursors: make(map[string]string), done: make(chan struct{})}
	if s.WebhookURL != "" {
		c.webhookID, c.webhookToken, _ = parseWebhookURL(s.WebhookURL)
	}

	if s.BotToken != "" {
		u, err := a.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			return nil, channels.NetworkError(bus.PlatformDiscord, "start", fmt.Errorf("fetch discord bot identity: %w", err))
		}
		c.botUserID = u.ID
		slog.Info("discord bot connected", "account", params.AccountID, "username", u.Username, "id", u.ID)
	}

	h := channels.NewChannelHandle(bus.PlatformDiscord, params.AccountID)
	c.alive.Store(true)

	if len(s.PollChannels) > 0 && params.Sink != nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		go p.poll(pollCtx, h, c, params)
		h.SetState(c, func() {
			c.alive.Store(false)
			cancel()
			select {
			case <-c.done:
			case <-time.After(10 * time.Second):
				slog.Warn("discord poll loop did not exit within timeout", "account", params.AccountID)
			}
		})
	} else {
		close(c.done)
		h.SetState(c, func() { c.alive.Store(false) })
	}
	h.MarkConnected()
	return h, nil
}

// poll fetches new messages from every poll channel once per tick until
// the liveness flag drops. The first tick only primes the cursors so
// history is never replayed.
func (p *Plugin) poll(ctx context.Context, h *channels.ChannelHandle, c *conn, params channels.StartParams) {
	defer close(c.done)

	interval := params.Config.PollInterval
	if interval <= 0 {
		interval = channels.DefaultChannelConfig().PollInterval
	}
	timeout := params.Config.RequestTimeout
	if timeout <= 0 {
		timeout = channels.DefaultChannelConfig().RequestTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for c.alive.Load() {
		ok := true
		for _, channelID := range c.settings.PollChannels {
			if !c.alive.Load() {
				return
			}
			tickCtx, cancel := context.WithTimeout(ctx, timeout)
			err := p.pollChannel(tickCtx, h, c, channelID, params)
			cancel()
			if err != nil {
				ok = false
				slog.Warn("discord poll failed", "account", params.AccountID, "channel", channelID, "error", err)
			}
		}
		if ok && !h.Active() {
			h.MarkConnected()
		} else if !ok {
			h.MarkDisconnected()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Plugin) pollChannel(ctx context.Context, h *channels.ChannelHandle, c *conn, channelID string, params channels.StartParams) error {
	after, primed := c.cursors[channelID]
	limit := params.Config.BatchSize
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if !primed {
		limit = 1
	}
	msgs, err := c.api.ChannelMessages(channelID, limit, "", after, "", discordgo.WithContext(ctx))
	if err != nil {
		return channels.NetworkError(bus.PlatformDiscord, "poll", err)
	}
	sortBySnowflake(msgs)
	if len(msgs) > 0 {
		c.cursors[channelID] = msgs[len(msgs)-1].ID
	} else if !primed {
		c.cursors[channelID] = ""
	}
	if !primed {
		return nil
	}

	for _, m := range msgs {
		if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
			continue
		}
		msg := toGatewayMessage(m)
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		msg.Metadata["account_id"] = h.AccountID
		if err := params.Sink(ctx, msg); err != nil {
			slog.Warn("discord inbound dropped", "account", h.AccountID, "message_id", m.ID, "error", err)
			continue
		}
		h.RecordMessage()
	}
	return nil
}

// sortBySnowflake orders messages oldest first. Snowflakes are decimal, so
// a shorter id is always older.
func sortBySnowflake(msgs []*discordgo.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i].ID, msgs[j].ID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}

func (p *Plugin) HealthCheck(ctx context.Context, h *channels.ChannelHandle) channels.HealthStatus {
	c := stateOf(h)
	if c == nil || !c.alive.Load() {
		return channels.Disconnected
	}
	if c.settings.BotToken == "" {
		return p.BasePlugin.HealthCheck(ctx, h)
	}
	if _, err := c.api.User("@me", discordgo.WithContext(ctx)); err != nil {
		slog.Debug("discord health check failed", "account", h.AccountID, "error", err)
		return channels.Disconnected
	}
	return channels.Healthy
}

// ParseInbound decodes a discordgo.Message JSON payload.
func (p *Plugin) ParseInbound(payload []byte) (bus.GatewayMessage, error) {
	var m discordgo.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformDiscord, "parse", err)
	}
	if m.ID == "" || m.ChannelID == "" || m.Author == nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformDiscord, "parse", errors.New("id, channel_id and author are required"))
	}
	if m.Author.Bot {
		return bus.GatewayMessage{}, channels.ErrIgnored
	}
	return toGatewayMessage(&m), nil
}

func toGatewayMessage(m *discordgo.Message) bus.GatewayMessage {
	ts := m.Timestamp
	if ts.IsZero() {
		ts, _ = discordgo.SnowflakeTimestamp(m.ID)
	}

	meta := map[string]any{
		"username":     m.Author.Username,
		"display_name": displayName(m),
		"is_dm":        m.GuildID == "",
	}
	if len(m.Mentions) > 0 {
		ids := make([]string, 0, len(m.Mentions))
		for _, u := range m.Mentions {
			ids = append(ids, u.ID)
		}
		meta[pipeline.MetaMentions] = ids
	}
	if len(m.Attachments) > 0 {
		atts := make([]bus.Attachment, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			atts = append(atts, bus.Attachment{URL: a.URL, Type: a.ContentType, Name: a.Filename, Size: int64(a.Size)})
		}
		meta[pipeline.MetaAttachments] = atts
	}
	if m.Member != nil && len(m.Member.Roles) > 0 {
		meta[pipeline.MetaRoles] = append([]string(nil), m.Member.Roles...)
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		meta["reply_to"] = m.MessageReference.MessageID
	}

	return bus.GatewayMessage{
		ID:        m.ID,
		Platform:  bus.PlatformDiscord,
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: ts.UnixMilli(),
		Metadata:  meta,
	}
}

// displayName prefers server nickname, then global display name, then username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// SendOutbound posts one chunk. Bot accounts reply through the channel API
// with a message reference; webhook accounts execute the webhook.
func (p *Plugin) SendOutbound(ctx context.Context, h *channels.ChannelHandle, resp bus.GatewayResponse) error {
	c := stateOf(h)
	if c == nil || !c.alive.Load() {
		return channels.DeliveryError(bus.PlatformDiscord, "send", errors.New("discord account not running"))
	}

	if c.settings.BotToken != "" && resp.ChannelID != "" {
		data := &discordgo.MessageSend{Content: resp.Content}
		if resp.ReplyTo != "" {
			data.Reference = &discordgo.MessageReference{MessageID: resp.ReplyTo, ChannelID: resp.ChannelID}
		}
		if _, err := c.api.ChannelMessageSendComplex(resp.ChannelID, data, discordgo.WithContext(ctx)); err != nil {
			return channels.DeliveryError(bus.PlatformDiscord, "send", fmt.Errorf("send discord message: %w", err))
		}
		return nil
	}

	if c.webhookID == "" {
		return channels.MessageError(bus.PlatformDiscord, "send", errors.New("empty channel id for discord bot send"))
	}
	params := &discordgo.WebhookParams{Content: resp.Content}
	if _, err := c.api.WebhookExecute(c.webhookID, c.webhookToken, false, params, discordgo.WithContext(ctx)); err != nil {
		return channels.DeliveryError(bus.PlatformDiscord, "send", fmt.Errorf("execute discord webhook: %w", err))
	}
	return nil
}

func stateOf(h *channels.ChannelHandle) *conn {
	if h == nil {
		return nil
	}
	c, _ := h.State().(*conn)
	return c
}
