package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
)

const callback = `{
	"token": "t",
	"team_id": "T1",
	"api_app_id": "A1",
	"type": "event_callback",
	"event_id": "Ev1",
	"event_time": 1700000000,
	"event": {
		"type": "message",
		"channel": "C1",
		"channel_type": "channel",
		"user": "U1",
		"text": "hello <@U2>",
		"ts": "1700000000.123456",
		"thread_ts": "1699999999.000100"
	}
}`

func TestParseInbound_Message(t *testing.T) {
	msg, err := New().ParseInbound([]byte(callback))
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "1700000000.123456" || msg.UserID != "U1" || msg.ChannelID != "C1" || msg.GuildID != "T1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d, want 1700000000123", msg.Timestamp)
	}
	if msg.MetaString("thread_ts") != "1699999999.000100" {
		t.Errorf("thread_ts = %q", msg.MetaString("thread_ts"))
	}
}

func TestParseInbound_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{"bot message", `{"type":"message","channel":"C1","user":"U1","bot_id":"B1","text":"x","ts":"1.0"}`},
		{"edit subtype", `{"type":"message","subtype":"message_changed","channel":"C1","ts":"1.0"}`},
		{"reaction", `{"type":"reaction_added","user":"U1","reaction":"tada"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"type":"event_callback","team_id":"T1","event":` + tt.event + `}`
			if _, err := New().ParseInbound([]byte(body)); !errors.Is(err, channels.ErrIgnored) {
				t.Errorf("err = %v, want ErrIgnored", err)
			}
		})
	}
}

func TestParseInbound_AppMention(t *testing.T) {
	body := `{"type":"event_callback","team_id":"T1","event":{"type":"app_mention","channel":"C9","user":"U3","text":"<@UBOT> help","ts":"1700000001.000001"}}`
	msg, err := New().ParseInbound([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if msg.ChannelID != "C9" || msg.Metadata["app_mention"] != true {
		t.Errorf("msg = %+v", msg)
	}
}

func TestChallenge(t *testing.T) {
	p := New()
	got, ok := p.Challenge([]byte(`{"token":"t","challenge":"abc123","type":"url_verification"}`))
	if !ok || got != "abc123" {
		t.Errorf("Challenge = %q, %v", got, ok)
	}
	if _, ok := p.Challenge([]byte(callback)); ok {
		t.Error("event callback treated as challenge")
	}
}

func sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyRequest(t *testing.T) {
	p := New()
	acct := config.AccountConfig{Enabled: true, Settings: map[string]any{"bot_token": "xoxb-1", "signing_secret": "s3cret"}}
	body := []byte(callback)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	good := http.Header{}
	good.Set("X-Slack-Request-Timestamp", ts)
	good.Set("X-Slack-Signature", sign("s3cret", ts, body))
	if err := p.VerifyRequest(acct, good, body); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	bad := http.Header{}
	bad.Set("X-Slack-Request-Timestamp", ts)
	bad.Set("X-Slack-Signature", sign("wrong", ts, body))
	if err := p.VerifyRequest(acct, bad, body); err == nil {
		t.Error("forged signature accepted")
	}

	noSecret := config.AccountConfig{Settings: map[string]any{"bot_token": "xoxb-1"}}
	if err := p.VerifyRequest(noSecret, http.Header{}, body); err != nil {
		t.Errorf("account without secret: %v", err)
	}
}

func TestTsToMillis(t *testing.T) {
	tests := []struct {
		ts      string
		want    int64
		wantErr bool
	}{
		{"1700000000.123456", 1700000000123, false},
		{"1700000000", 1700000000000, false},
		{"1700000000.5", 1700000000500, false},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := tsToMillis(tt.ts)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("tsToMillis(%q) = %d, %v", tt.ts, got, err)
		}
	}
}

// fakeSlack serves auth.test and chat.postMessage.
type fakeSlack struct {
	mu    sync.Mutex
	posts []map[string]string
}

func (f *fakeSlack) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"team":"Acme","user":"clawgate","team_id":"T1","user_id":"UBOT"}`)
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.posts = append(f.posts, map[string]string{
			"channel":   r.FormValue("channel"),
			"text":      r.FormValue("text"),
			"thread_ts": r.FormValue("thread_ts"),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000002.000001"}`)
	})
	return mux
}

func TestSendOutbound_BotThreadsReply(t *testing.T) {
	f := &fakeSlack{}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	p := New()
	h, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "w1",
		Account:   config.AccountConfig{Enabled: true, Settings: map[string]any{"bot_token": "xoxb-test", "api_url": srv.URL + "/"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.HealthCheck(context.Background(), h) != channels.Healthy {
		t.Error("bot account not healthy")
	}

	err = p.SendOutbound(context.Background(), h, bus.GatewayResponse{ChannelID: "C1", Content: "*hi*", ReplyTo: "1700000000.123456"})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(f.posts))
	}
	if got := f.posts[0]; got["channel"] != "C1" || got["text"] != "*hi*" || got["thread_ts"] != "1700000000.123456" {
		t.Errorf("post = %v", got)
	}
}

func TestSendOutbound_Webhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := New()
	h, err := p.StartAccount(context.Background(), channels.StartParams{
		AccountID: "hook",
		Account:   config.AccountConfig{Enabled: true, Settings: map[string]any{"webhook_url": srv.URL}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SendOutbound(context.Background(), h, bus.GatewayResponse{Content: "deployed"}); err != nil {
		t.Fatal(err)
	}
	if got["text"] != "deployed" {
		t.Errorf("webhook body = %v", got)
	}
}

func TestValidateConfig(t *testing.T) {
	p := New()
	if err := p.ValidateConfig(config.AccountConfig{}); channels.KindOf(err) != channels.KindConfiguration {
		t.Errorf("empty account err = %v", err)
	}
	if err := p.ValidateConfig(config.AccountConfig{Settings: map[string]any{"bot_token": "nope"}}); err == nil {
		t.Error("non-slack token accepted")
	}
}
