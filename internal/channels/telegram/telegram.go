// Package telegram implements the Telegram platform plugin on top of
// mymmrac/telego. Updates arrive either on the webhook endpoint or, in
// polling mode, through getUpdates long polling that feeds the inbound sink.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// SecretTokenHeader carries the secret set with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Receive modes.
const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// Settings are the account settings under accounts.telegram.<id>.settings.
type Settings struct {
	BotToken    string `json:"bot_token,omitempty"`
	SecretToken string `json:"secret_token,omitempty"`
	Mode        string `json:"mode,omitempty"`       // "webhook" (default) or "polling"
	APIServer   string `json:"api_server,omitempty"` // local Bot API server or tests
}

// Plugin is the Telegram channels.Plugin.
type Plugin struct {
	channels.BasePlugin
}

// New creates the Telegram plugin.
func New() *Plugin {
	return &Plugin{
		BasePlugin: channels.NewBasePlugin(channels.ChannelMeta{
			Platform:    bus.PlatformTelegram,
			DisplayName: "Telegram",
			Order:       3,
			Description: "Telegram Bot API",
		}),
	}
}

type conn struct {
	bot      *telego.Bot
	settings Settings

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func decodeSettings(acct config.AccountConfig) (Settings, error) {
	var s Settings
	if err := acct.Decode(&s); err != nil {
		return s, channels.ConfigError(bus.PlatformTelegram, "decode", err)
	}
	if s.Mode == "" {
		s.Mode = ModeWebhook
	}
	return s, nil
}

func (p *Plugin) ValidateConfig(acct config.AccountConfig) error {
	s, err := decodeSettings(acct)
	if err != nil {
		return err
	}
	if s.BotToken == "" {
		return channels.ConfigError(bus.PlatformTelegram, "validate", errors.New("bot_token is required"))
	}
	if s.Mode != ModeWebhook && s.Mode != ModePolling {
		return channels.ConfigError(bus.PlatformTelegram, "validate", fmt.Errorf("unknown mode %q", s.Mode))
	}
	return nil
}

func (p *Plugin) IsConfigured(acct config.AccountConfig, _ *config.Config) bool {
	return p.ValidateConfig(acct) == nil
}

func newBot(s Settings, timeout time.Duration) (*telego.Bot, error) {
	opts := []telego.BotOption{
		telego.WithHTTPClient(&http.Client{Timeout: timeout}),
		telego.WithDefaultLogger(false, true),
	}
	if s.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(s.APIServer))
	}
	return telego.NewBot(s.BotToken, opts...)
}

func (p *Plugin) StartAccount(ctx context.Context, params channels.StartParams) (*channels.ChannelHandle, error) {
	if err := p.ValidateConfig(params.Account); err != nil {
		return nil, err
	}
	s, _ := decodeSettings(params.Account)

	// Long polling holds requests open for 30s, so the client timeout must
	// exceed it.
	timeout := params.Config.RequestTimeout
	if s.Mode == ModePolling {
		timeout = 45 * time.Second
	}
	bot, err := newBot(s, timeout)
	if err != nil {
		return nil, channels.ConfigError(bus.PlatformTelegram, "start", fmt.Errorf("create telegram bot: %w", err))
	}
	c := &conn{bot: bot, settings: s}
	h := channels.NewChannelHandle(bus.PlatformTelegram, params.AccountID)

	if s.Mode == ModePolling && params.Sink != nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
			Timeout:        30,
			AllowedUpdates: []string{"message"},
		})
		if err != nil {
			cancel()
			return nil, channels.NetworkError(bus.PlatformTelegram, "start", fmt.Errorf("start long polling: %w", err))
		}
		c.pollCancel = cancel
		c.pollDone = make(chan struct{})
		go p.consume(pollCtx, h, c, updates, params.Sink)
		slog.Info("telegram bot polling", "account", params.AccountID)
	}

	h.SetState(c, func() { c.stop(params.AccountID) })
	h.MarkConnected()
	return h, nil
}

func (p *Plugin) consume(ctx context.Context, h *channels.ChannelHandle, c *conn, updates <-chan telego.Update, sink channels.InboundSink) {
	defer close(c.pollDone)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				slog.Info("telegram updates channel closed", "account", h.AccountID)
				return
			}
			msg, err := updateToMessage(update)
			if err != nil {
				slog.Debug("telegram update skipped", "update_id", update.UpdateID, "error", err)
				continue
			}
			msg.Metadata["account_id"] = h.AccountID
			if err := sink(ctx, msg); err != nil {
				slog.Warn("telegram inbound dropped", "account", h.AccountID, "message_id", msg.ID, "error", err)
				continue
			}
			h.RecordMessage()
		}
	}
}

// stop cancels long polling and waits for the consumer so Telegram releases
// the getUpdates lock before a new instance starts.
func (c *conn) stop(accountID string) {
	if c.pollCancel == nil {
		return
	}
	c.pollCancel()
	select {
	case <-c.pollDone:
	case <-time.After(10 * time.Second):
		slog.Warn("telegram polling goroutine did not exit within timeout", "account", accountID)
	}
}

func (p *Plugin) HealthCheck(ctx context.Context, h *channels.ChannelHandle) channels.HealthStatus {
	c := stateOf(h)
	if c == nil || !h.Active() {
		return channels.Disconnected
	}
	if _, err := c.bot.GetMe(ctx); err != nil {
		slog.Debug("telegram health check failed", "account", h.AccountID, "error", err)
		return channels.Disconnected
	}
	return channels.Healthy
}

// VerifyRequest compares the secret token header when one is configured.
func (p *Plugin) VerifyRequest(acct config.AccountConfig, header http.Header, _ []byte) error {
	s, err := decodeSettings(acct)
	if err != nil {
		return err
	}
	if s.SecretToken == "" {
		return nil
	}
	got := header.Get(SecretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.SecretToken)) != 1 {
		return channels.MessageError(bus.PlatformTelegram, "verify", errors.New("secret token mismatch"))
	}
	return nil
}

// ParseInbound decodes a telego.Update. Updates without a new message are
// ignored.
func (p *Plugin) ParseInbound(payload []byte) (bus.GatewayMessage, error) {
	var update telego.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformTelegram, "parse", err)
	}
	return updateToMessage(update)
}

func updateToMessage(update telego.Update) (bus.GatewayMessage, error) {
	m := update.Message
	if m == nil {
		return bus.GatewayMessage{}, channels.ErrIgnored
	}
	if m.From == nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformTelegram, "parse", errors.New("message has no sender"))
	}
	if m.From.IsBot {
		return bus.GatewayMessage{}, channels.ErrIgnored
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	meta := map[string]any{
		"username":  m.From.Username,
		"chat_type": m.Chat.Type,
		"is_dm":     m.Chat.Type == telego.ChatTypePrivate,
		"update_id": update.UpdateID,
	}
	if m.MessageThreadID != 0 {
		meta["topic_id"] = m.MessageThreadID
	}
	if m.ReplyToMessage != nil {
		meta["reply_to"] = strconv.Itoa(m.ReplyToMessage.MessageID)
	}

	return bus.GatewayMessage{
		ID:        strconv.Itoa(m.MessageID),
		Platform:  bus.PlatformTelegram,
		UserID:    strconv.FormatInt(m.From.ID, 10),
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Content:   content,
		Timestamp: m.Date * 1000,
		Metadata:  meta,
	}, nil
}

// SendOutbound sends one HTML chunk. ReplyTo is a message id in the same chat.
func (p *Plugin) SendOutbound(ctx context.Context, h *channels.ChannelHandle, resp bus.GatewayResponse) error {
	c := stateOf(h)
	if c == nil || !h.Active() {
		return channels.DeliveryError(bus.PlatformTelegram, "send", errors.New("telegram account not running"))
	}
	chatID, err := strconv.ParseInt(resp.ChannelID, 10, 64)
	if err != nil {
		return channels.MessageError(bus.PlatformTelegram, "send", fmt.Errorf("invalid chat id %q", resp.ChannelID))
	}

	msg := tu.Message(tu.ID(chatID), resp.Content).WithParseMode(telego.ModeHTML)
	if resp.ReplyTo != "" {
		if id, err := strconv.Atoi(resp.ReplyTo); err == nil {
			msg = msg.WithReplyParameters(&telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true})
		}
	}
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		return channels.DeliveryError(bus.PlatformTelegram, "send", fmt.Errorf("telegram sendMessage: %w", err))
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
