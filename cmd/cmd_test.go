package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/pkg/gatewayclient"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func TestBuildOnboardConfig(t *testing.T) {
	a := onboardAnswers{
		HTTPPort:       "5000",
		WSPort:         "5001",
		Platforms:      []string{"discord", "telegram"},
		DiscordToken:   "dtok",
		TelegramToken:  "ttok",
		TelegramMode:   "polling",
		AuthToken:      " secret ",
		StoreDriver:    "memory",
		StoreDSN:       "ignored",
		AutoCreate:     true,
		AllowedUserIDs: "u1, u2,,",
	}
	cfg, err := buildOnboardConfig(a)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Enabled || cfg.HTTPPort != 5000 || cfg.WSPort != 5001 || cfg.AuthToken != "secret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Store.DSN != "" {
		t.Errorf("memory store kept dsn %q", cfg.Store.DSN)
	}
	if !cfg.Whitelist.Enabled || len(cfg.Whitelist.UserIDs) != 2 || cfg.Whitelist.UserIDs[1] != "u2" {
		t.Errorf("whitelist = %+v", cfg.Whitelist)
	}
	d := cfg.Accounts["discord"]["default"]
	if !d.Enabled || d.Settings["bot_token"] != "dtok" {
		t.Errorf("discord account = %+v", d)
	}
	if _, ok := d.Settings["webhook_url"]; ok {
		t.Error("empty webhook_url should be dropped")
	}
	if tg := cfg.Accounts["telegram"]["default"]; tg.Settings["mode"] != "polling" {
		t.Errorf("telegram account = %+v", tg)
	}
	if _, ok := cfg.Accounts["slack"]; ok {
		t.Error("slack was not selected")
	}
}

func TestBuildOnboardConfig_Invalid(t *testing.T) {
	_, err := buildOnboardConfig(onboardAnswers{HTTPPort: "5000", WSPort: "5000", StoreDriver: "memory"})
	if err == nil {
		t.Fatal("equal ports should fail validation")
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"4281", true},
		{" 65535 ", true},
		{"80", false},
		{"70000", false},
		{"abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if err := validatePort(tt.in); (err == nil) != tt.ok {
				t.Errorf("validatePort(%q) = %v", tt.in, err)
			}
		})
	}
}

func TestPrintTable_WideRunes(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"A", "NAME"}, [][]string{{"日本", "x"}, {"b", "yy"}})

	want := "A     NAME\n日本  x\nb     yy\n"
	if got := buf.String(); got != want {
		t.Errorf("table =\n%q\nwant\n%q", got, want)
	}
}

func TestPrintTable_Truncates(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"ID"}, [][]string{{strings.Repeat("x", 40)}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !strings.HasSuffix(lines[1], "…") || len([]rune(lines[1])) != maxCellWidth {
		t.Errorf("row = %q", lines[1])
	}
}

func TestPrintStatus(t *testing.T) {
	status := map[string]any{
		"protocol":   float64(1),
		"uptime_sec": float64(42),
		"queue":      map[string]any{"len": float64(3), "cap": float64(1000)},
		"clients":    map[string]any{"attached": float64(1), "detached": float64(0)},
		"threads":    float64(7),
		"last_seq":   float64(99),
	}
	platforms := []gatewayclient.Platform{
		{DisplayName: "Discord", Accounts: []gatewayclient.Account{
			{AccountID: "main", Enabled: true, Configured: true, Running: true, Active: true, MessageCount: 5},
		}},
		{DisplayName: "Slack"},
	}
	var buf bytes.Buffer
	printStatus(&buf, status, platforms)
	out := buf.String()
	for _, want := range []string{"Queue:     3/1000", "Threads:   7", "Discord   main     running  yes     5", "Slack     -"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestAccountState(t *testing.T) {
	tests := []struct {
		a    gatewayclient.Account
		want string
	}{
		{gatewayclient.Account{Running: true}, "running"},
		{gatewayclient.Account{}, "disabled"},
		{gatewayclient.Account{Enabled: true}, "unconfigured"},
		{gatewayclient.Account{Enabled: true, Configured: true}, "stopped"},
	}
	for _, tt := range tests {
		if got := accountState(tt.a); got != tt.want {
			t.Errorf("accountState(%+v) = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestWSURL(t *testing.T) {
	cfg := config.Default()
	cfg.WSPort = 6000
	cfg.Host = "0.0.0.0"
	if got := wsURL(cfg); got != "ws://127.0.0.1:6000/ws" {
		t.Errorf("wsURL = %q", got)
	}
	cfg.Host = "::1"
	if got := wsURL(cfg); got != "ws://[::1]:6000/ws" {
		t.Errorf("wsURL = %q", got)
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, protocol.EventFrame{Seq: 12, Event: protocol.EventThreadCreated, Payload: map[string]string{"thread_id": "t1"}})
	out := buf.String()
	if !strings.Contains(out, "thread.created") || !strings.Contains(out, `{"thread_id":"t1"}`) || !strings.Contains(out, " - ") {
		t.Errorf("event line = %q", out)
	}
}

func TestOpenThreadStore(t *testing.T) {
	ctx := context.Background()

	st, err := openThreadStore(ctx, config.StoreConfig{Driver: "memory"})
	if err != nil || st != nil {
		t.Errorf("memory driver = %v, %v; want nil store", st, err)
	}

	st, err = openThreadStore(ctx, config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "threads.db")})
	if err != nil || st == nil {
		t.Fatalf("sqlite driver = %v, %v", st, err)
	}
	st.Close()

	if _, err := openThreadStore(ctx, config.StoreConfig{Driver: "etcd"}); err == nil {
		t.Error("unknown driver should fail")
	}
}
