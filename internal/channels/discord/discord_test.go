package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
)

type fakeAPI struct {
	mu       sync.Mutex
	userErr  error
	sent     []*discordgo.MessageSend
	sentTo   []string
	webhooks []*discordgo.WebhookParams
	hookIDs  []string
	history  map[string][]*discordgo.Message // channel → messages, any order
	afters   []string
}

func (f *fakeAPI) User(string, ...discordgo.RequestOption) (*discordgo.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &discordgo.User{ID: "bot-1", Username: "clawgate"}, nil
}

func (f *fakeAPI) ChannelMessages(channelID string, limit int, _, afterID, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afters = append(f.afters, afterID)
	var out []*discordgo.Message
	for _, m := range f.history[channelID] {
		if afterID == "" || snowflakeAfter(m.ID, afterID) {
			out = append(out, m)
		}
	}
	sortBySnowflake(out)
	if afterID == "" && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func snowflakeAfter(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, channelID)
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: "out"}, nil
}

func (f *fakeAPI) WebhookExecute(webhookID, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hookIDs = append(f.hookIDs, webhookID)
	f.webhooks = append(f.webhooks, data)
	return nil, nil
}

func (f *fakeAPI) addMessage(channelID string, m *discordgo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], m)
}

func newTestPlugin(f *fakeAPI) *Plugin {
	p := New()
	p.newAPI = func(string) (api, error) { return f, nil }
	return p
}

func account(settings map[string]any) config.AccountConfig {
	return config.AccountConfig{Enabled: true, Settings: settings}
}

func TestValidateConfig(t *testing.T) {
	p := New()
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{"bot token", map[string]any{"bot_token": "x"}, false},
		{"webhook", map[string]any{"webhook_url": "https://discord.com/api/webhooks/123/abc"}, false},
		{"nothing", map[string]any{}, true},
		{"bad webhook", map[string]any{"webhook_url": "https://discord.com/nope"}, true},
		{"poll without bot", map[string]any{"webhook_url": "https://discord.com/api/webhooks/1/t", "poll_channels": []any{"c1"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateConfig(account(tt.settings))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && channels.KindOf(err) != channels.KindConfiguration {
				t.Errorf("kind = %v, want configuration", channels.KindOf(err))
			}
		})
	}
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/123456/tok-en")
	if err != nil || id != "123456" || token != "tok-en" {
		t.Errorf("parseWebhookURL = %q, %q, %v", id, token, err)
	}
}

func TestParseInbound(t *testing.T) {
	p := New()
	payload := []byte(`{
		"id": "1100000000000000001",
		"channel_id": "c1",
		"guild_id": "g1",
		"content": "hi <@42>",
		"timestamp": "2024-05-01T10:00:00Z",
		"author": {"id": "u1", "username": "ana", "global_name": "Ana"},
		"mentions": [{"id": "42", "username": "bob"}],
		"attachments": [{"id": "a1", "url": "https://cdn/x.png", "filename": "x.png", "content_type": "image/png", "size": 10}],
		"member": {"roles": ["r1", "r2"], "nick": "Annie"},
		"message_reference": {"message_id": "999"}
	}`)

	msg, err := p.ParseInbound(payload)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "1100000000000000001" || msg.UserID != "u1" || msg.ChannelID != "c1" || msg.GuildID != "g1" {
		t.Errorf("msg = %+v", msg)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(); msg.Timestamp != want {
		t.Errorf("Timestamp = %d, want %d", msg.Timestamp, want)
	}
	if msg.MetaString("display_name") != "Annie" || msg.MetaString("reply_to") != "999" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
	if roles, _ := msg.Metadata[pipeline.MetaRoles].([]string); len(roles) != 2 {
		t.Errorf("roles = %v", msg.Metadata[pipeline.MetaRoles])
	}

	norm, err := pipeline.Normalize(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(norm.Attachments) != 1 || norm.Attachments[0].Name != "x.png" {
		t.Errorf("attachments = %+v", norm.Attachments)
	}
	if len(norm.Mentions) != 1 || norm.Mentions[0] != "42" {
		t.Errorf("mentions = %v", norm.Mentions)
	}
}

func TestParseInbound_Errors(t *testing.T) {
	p := New()
	if _, err := p.ParseInbound([]byte(`{`)); channels.KindOf(err) != channels.KindMessage {
		t.Errorf("bad json err = %v", err)
	}
	if _, err := p.ParseInbound([]byte(`{"id":"1","channel_id":"c"}`)); channels.KindOf(err) != channels.KindMessage {
		t.Errorf("missing author err = %v", err)
	}
	bot := []byte(`{"id":"1","channel_id":"c","author":{"id":"b","bot":true}}`)
	if _, err := p.ParseInbound(bot); !errors.Is(err, channels.ErrIgnored) {
		t.Errorf("bot author err = %v, want ErrIgnored", err)
	}
}

func TestSendOutbound_BotReply(t *testing.T) {
	f := &fakeAPI{history: map[string][]*discordgo.Message{}}
	p := newTestPlugin(f)
	h, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "main",
		Account:   account(map[string]any{"bot_token": "x"}),
		Config:    p.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	a := channels.NewOutboundAdapter(config.RateLimitConfig{}, nil)
	content := make([]byte, 3500)
	for i := range content {
		content[i] = 'x'
	}
	results := a.FormatAndSend(context.Background(), p, h, bus.GatewayResponse{
		Platform: bus.PlatformDiscord, ChannelID: "c1", Content: string(content), ReplyTo: "m1",
	})

	if len(results) != 2 || len(f.sent) != 2 {
		t.Fatalf("results = %d, sent = %d, want 2", len(results), len(f.sent))
	}
	if f.sent[0].Reference == nil || f.sent[0].Reference.MessageID != "m1" {
		t.Errorf("first chunk reference = %+v", f.sent[0].Reference)
	}
	if f.sent[1].Reference != nil {
		t.Errorf("second chunk reference = %+v, want nil", f.sent[1].Reference)
	}
}

func TestSendOutbound_Webhook(t *testing.T) {
	f := &fakeAPI{history: map[string][]*discordgo.Message{}}
	p := newTestPlugin(f)
	h, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "hook",
		Account:   account(map[string]any{"webhook_url": "https://discord.com/api/webhooks/77/secret"}),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.SendOutbound(context.Background(), h, bus.GatewayResponse{Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if len(f.hookIDs) != 1 || f.hookIDs[0] != "77" || f.webhooks[0].Content != "hello" {
		t.Errorf("webhook calls = %v %+v", f.hookIDs, f.webhooks)
	}
	if p.HealthCheck(context.Background(), h) != channels.Healthy {
		t.Error("webhook account should be healthy while running")
	}

	h.Stop()
	err = p.SendOutbound(context.Background(), h, bus.GatewayResponse{Content: "late"})
	if channels.KindOf(err) != channels.KindDelivery {
		t.Errorf("send after stop err = %v", err)
	}
}

func TestStartAccount_IdentityFailure(t *testing.T) {
	f := &fakeAPI{userErr: errors.New("401 unauthorized")}
	p := newTestPlugin(f)
	_, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "main",
		Account:   account(map[string]any{"bot_token": "bad"}),
	})
	if channels.KindOf(err) != channels.KindNetwork {
		t.Errorf("err = %v, want network error", err)
	}
}

func TestPollLoop(t *testing.T) {
	f := &fakeAPI{history: map[string][]*discordgo.Message{
		"c1": {{ID: "100", ChannelID: "c1", Content: "old", Author: &discordgo.User{ID: "u1"}}},
	}}
	p := newTestPlugin(f)

	got := make(chan bus.GatewayMessage, 4)
	cfg := p.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	h, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "main",
		Account:   account(map[string]any{"bot_token": "x", "poll_channels": []any{"c1"}}),
		Config:    cfg,
		Sink: func(_ context.Context, m bus.GatewayMessage) error {
			got <- m
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	time.Sleep(30 * time.Millisecond) // let the first tick prime the cursor
	f.addMessage("c1", &discordgo.Message{ID: "101", ChannelID: "c1", Content: "from bot", Author: &discordgo.User{ID: "bot-1"}})
	f.addMessage("c1", &discordgo.Message{ID: "102", ChannelID: "c1", Content: "new", Author: &discordgo.User{ID: "u2"}})

	select {
	case m := <-got:
		if m.ID != "102" || m.Content != "new" {
			t.Errorf("polled message = %+v, want 102", m)
		}
		if m.MetaString("account_id") != "main" {
			t.Errorf("account_id = %q", m.MetaString("account_id"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop delivered nothing")
	}

	select {
	case m := <-got:
		t.Errorf("unexpected extra message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
