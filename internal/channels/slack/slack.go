// Package slack implements the Slack platform plugin on top of
// slack-go/slack. Inbound traffic arrives as Events API callbacks on the
// webhook endpoint; outbound replies go through chat.postMessage (bot
// token) or an incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// Settings are the account settings under accounts.slack.<id>.settings.
type Settings struct {
	BotToken      string `json:"bot_token,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	SigningSecret string `json:"signing_secret,omitempty"`
	APIURL        string `json:"api_url,omitempty"` // override for Enterprise Grid or tests; must end in "/"
}

// Plugin is the Slack channels.Plugin.
type Plugin struct {
	channels.BasePlugin
}

// New creates the Slack plugin.
func New() *Plugin {
	return &Plugin{
		BasePlugin: channels.NewBasePlugin(channels.ChannelMeta{
			Platform:    bus.PlatformSlack,
			DisplayName: "Slack",
			Order:       2,
			Description: "Slack Events API and chat.postMessage",
		}),
	}
}

type conn struct {
	client   *slack.Client // nil for webhook-only accounts
	settings Settings
	botID    string
}

func decodeSettings(acct config.AccountConfig) (Settings, error) {
	var s Settings
	if err := acct.Decode(&s); err != nil {
		return s, channels.ConfigError(bus.PlatformSlack, "decode", err)
	}
	return s, nil
}

func (p *Plugin) ValidateConfig(acct config.AccountConfig) error {
	s, err := decodeSettings(acct)
	if err != nil {
		return err
	}
	if s.BotToken == "" && s.WebhookURL == "" {
		return channels.ConfigError(bus.PlatformSlack, "validate", errors.New("bot_token or webhook_url is required"))
	}
	if s.BotToken != "" && !strings.HasPrefix(s.BotToken, "xox") {
		return channels.ConfigError(bus.PlatformSlack, "validate", errors.New("bot_token must be a Slack token (xoxb-...)"))
	}
	return nil
}

func (p *Plugin) IsConfigured(acct config.AccountConfig, _ *config.Config) bool {
	return p.ValidateConfig(acct) == nil
}

func (p *Plugin) StartAccount(ctx context.Context, params channels.StartParams) (*channels.ChannelHandle, error) {
	if err := p.ValidateConfig(params.Account); err != nil {
		return nil, err
	}
	s, _ := decodeSettings(params.Account)
	c := &conn{settings: s}

	if s.BotToken != "" {
		var opts []slack.Option
		if s.APIURL != "" {
			opts = append(opts, slack.OptionAPIURL(s.APIURL))
		}
		c.client = slack.New(s.BotToken, opts...)
		auth, err := c.client.AuthTestContext(ctx)
		if err != nil {
			return nil, channels.NetworkError(bus.PlatformSlack, "start", fmt.Errorf("slack auth.test: %w", err))
		}
		c.botID = auth.UserID
		slog.Info("slack bot connected", "account", params.AccountID, "team", auth.Team, "user", auth.User)
	}

	h := channels.NewChannelHandle(bus.PlatformSlack, params.AccountID)
	h.SetState(c, nil)
	h.MarkConnected()
	return h, nil
}

func (p *Plugin) HealthCheck(ctx context.Context, h *channels.ChannelHandle) channels.HealthStatus {
	c := stateOf(h)
	if c == nil || !h.Active() {
		return channels.Disconnected
	}
	if c.client == nil {
		return channels.Healthy
	}
	if _, err := c.client.AuthTestContext(ctx); err != nil {
		slog.Debug("slack health check failed", "account", h.AccountID, "error", err)
		return channels.Disconnected
	}
	return channels.Healthy
}

// Challenge answers the Events API url_verification handshake.
func (p *Plugin) Challenge(body []byte) (string, bool) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type != slackevents.URLVerification {
		return "", false
	}
	var r slackevents.ChallengeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", false
	}
	return r.Challenge, true
}

// VerifyRequest checks the X-Slack-Signature header when the account has
// a signing secret.
func (p *Plugin) VerifyRequest(acct config.AccountConfig, header http.Header, body []byte) error {
	s, err := decodeSettings(acct)
	if err != nil {
		return err
	}
	if s.SigningSecret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, s.SigningSecret)
	if err != nil {
		return channels.MessageError(bus.PlatformSlack, "verify", err)
	}
	if _, err := sv.Write(body); err != nil {
		return channels.MessageError(bus.PlatformSlack, "verify", err)
	}
	if err := sv.Ensure(); err != nil {
		return channels.MessageError(bus.PlatformSlack, "verify", err)
	}
	return nil
}

// ParseInbound decodes an Events API callback carrying a message or
// app_mention event. Bot messages and message subtypes (edits, joins)
// are ignored.
func (p *Plugin) ParseInbound(payload []byte) (bus.GatewayMessage, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformSlack, "parse", err)
	}
	if ev.Type != slackevents.CallbackEvent {
		return bus.GatewayMessage{}, channels.ErrIgnored
	}

	var (
		user, text, channel, ts, threadTS, channelType string
		mention                                       bool
	)
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.SubType != "" {
			return bus.GatewayMessage{}, channels.ErrIgnored
		}
		user, text, channel = inner.User, inner.Text, inner.Channel
		ts, threadTS, channelType = inner.TimeStamp, inner.ThreadTimeStamp, inner.ChannelType
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" {
			return bus.GatewayMessage{}, channels.ErrIgnored
		}
		user, text, channel = inner.User, inner.Text, inner.Channel
		ts, threadTS = inner.TimeStamp, inner.ThreadTimeStamp
		mention = true
	default:
		return bus.GatewayMessage{}, channels.ErrIgnored
	}

	if ts == "" || channel == "" || user == "" {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformSlack, "parse", errors.New("event is missing ts, channel or user"))
	}
	ms, err := tsToMillis(ts)
	if err != nil {
		return bus.GatewayMessage{}, channels.MessageError(bus.PlatformSlack, "parse", err)
	}

	meta := map[string]any{
		"is_dm":        channelType == "im",
		"app_mention":  mention,
		"api_app_id":   ev.APIAppID,
		"channel_type": channelType,
	}
	if threadTS != "" {
		meta["thread_ts"] = threadTS
	}

	return bus.GatewayMessage{
		ID:        ts,
		Platform:  bus.PlatformSlack,
		UserID:    user,
		ChannelID: channel,
		GuildID:   ev.TeamID,
		Content:   text,
		Timestamp: ms,
		Metadata:  meta,
	}, nil
}

// tsToMillis converts a Slack "seconds.micros" timestamp to epoch millis.
func tsToMillis(ts string) (int64, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid slack ts %q", ts)
	}
	ms := sec * 1000
	if fracPart != "" {
		fracPart = (fracPart + "000")[:3]
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid slack ts %q", ts)
		}
		ms += frac
	}
	return ms, nil
}

// SendOutbound posts one chunk. ReplyTo is a message ts and threads the
// reply under it.
func (p *Plugin) SendOutbound(ctx context.Context, h *channels.ChannelHandle, resp bus.GatewayResponse) error {
	c := stateOf(h)
	if c == nil || !h.Active() {
		return channels.DeliveryError(bus.PlatformSlack, "send", errors.New("slack account not running"))
	}

	if c.client != nil && resp.ChannelID != "" {
		opts := []slack.MsgOption{slack.MsgOptionText(resp.Content, false)}
		if resp.ReplyTo != "" {
			opts = append(opts, slack.MsgOptionTS(resp.ReplyTo))
		}
		if _, _, err := c.client.PostMessageContext(ctx, resp.ChannelID, opts...); err != nil {
			return channels.DeliveryError(bus.PlatformSlack, "send", fmt.Errorf("slack chat.postMessage: %w", err))
		}
		return nil
	}

	if c.settings.WebhookURL == "" {
		return channels.MessageError(bus.PlatformSlack, "send", errors.New("empty channel id for slack bot send"))
	}
	msg := &slack.WebhookMessage{Text: resp.Content, ThreadTimestamp: resp.ReplyTo}
	if err := slack.PostWebhookContext(ctx, c.settings.WebhookURL, msg); err != nil {
		return channels.DeliveryError(bus.PlatformSlack, "send", fmt.Errorf("slack webhook: %w", err))
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
