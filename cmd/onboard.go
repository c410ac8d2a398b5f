package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// onboardAnswers collects the wizard's form values.
type onboardAnswers struct {
	HTTPPort  string
	WSPort    string
	Platforms []string

	DiscordToken      string
	DiscordWebhookURL string
	SlackToken        string
	SlackSigning      string
	SlackWebhookURL   string
	TelegramToken     string
	TelegramMode      string

	AuthToken      string
	StoreDriver    string
	StoreDSN       string
	AutoCreate     bool
	AllowedUserIDs string
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	a := onboardAnswers{
		HTTPPort:     strconv.Itoa(config.DefaultHTTPPort),
		WSPort:       strconv.Itoa(config.DefaultWSPort),
		TelegramMode: "webhook",
		AuthToken:    uuid.NewString(),
		StoreDriver:  "sqlite",
		StoreDSN:     "clawgate.db",
		AutoCreate:   true,
	}

	// hidden hides a platform's group unless it was selected.
	hidden := func(p string) func() bool {
		return func() bool {
			for _, s := range a.Platforms {
				if s == p {
					return false
				}
			}
			return true
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("HTTP port (webhooks, /health, /metrics)").Value(&a.HTTPPort).Validate(validatePort),
			huh.NewInput().Title("WebSocket port (host application)").Value(&a.WSPort).Validate(validatePort),
			huh.NewMultiSelect[string]().
				Title("Platforms").
				Options(
					huh.NewOption("Discord", "discord"),
					huh.NewOption("Slack", "slack"),
					huh.NewOption("Telegram", "telegram"),
				).
				Value(&a.Platforms),
		),
		huh.NewGroup(
			huh.NewInput().Title("Discord bot token").EchoMode(huh.EchoModePassword).Value(&a.DiscordToken),
			huh.NewInput().Title("Discord webhook URL (optional)").Value(&a.DiscordWebhookURL),
		).WithHideFunc(hidden("discord")),
		huh.NewGroup(
			huh.NewInput().Title("Slack bot token").EchoMode(huh.EchoModePassword).Value(&a.SlackToken),
			huh.NewInput().Title("Slack signing secret").EchoMode(huh.EchoModePassword).Value(&a.SlackSigning),
			huh.NewInput().Title("Slack incoming webhook URL (optional)").Value(&a.SlackWebhookURL),
		).WithHideFunc(hidden("slack")),
		huh.NewGroup(
			huh.NewInput().Title("Telegram bot token").EchoMode(huh.EchoModePassword).Value(&a.TelegramToken),
			huh.NewSelect[string]().
				Title("Telegram updates").
				Options(
					huh.NewOption("Webhook", "webhook"),
					huh.NewOption("Long polling", "polling"),
				).
				Value(&a.TelegramMode),
		).WithHideFunc(hidden("telegram")),
		huh.NewGroup(
			huh.NewInput().Title("Auth token for the WebSocket and /api/messages").Value(&a.AuthToken),
			huh.NewSelect[string]().
				Title("Thread mapping store").
				Options(
					huh.NewOption("SQLite file", "sqlite"),
					huh.NewOption("Postgres", "postgres"),
					huh.NewOption("Redis", "redis"),
					huh.NewOption("Memory only", "memory"),
				).
				Value(&a.StoreDriver),
			huh.NewInput().Title("Store DSN (file path, postgres:// or redis:// URL)").Value(&a.StoreDSN),
			huh.NewConfirm().Title("Create threads automatically for new channels?").Value(&a.AutoCreate),
			huh.NewInput().Title("Whitelisted user ids, comma separated (empty = everyone)").Value(&a.AllowedUserIDs),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
		os.Exit(1)
	}

	cfg, err := buildOnboardConfig(a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	if cfg.Store.Driver == "postgres" {
		fmt.Println("Apply the schema with:  clawgate migrate up")
	}
	fmt.Println("Start the gateway with: clawgate")
}

func validatePort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1024 || p > 65535 {
		return fmt.Errorf("enter a port between 1024 and 65535")
	}
	return nil
}

// buildOnboardConfig turns wizard answers into a validated, enabled config.
func buildOnboardConfig(a onboardAnswers) (*config.Config, error) {
	cfg := config.Default()
	cfg.Enabled = true
	cfg.HTTPPort, _ = strconv.Atoi(strings.TrimSpace(a.HTTPPort))
	cfg.WSPort, _ = strconv.Atoi(strings.TrimSpace(a.WSPort))
	cfg.AuthToken = strings.TrimSpace(a.AuthToken)
	cfg.AutoCreateThreads = a.AutoCreate
	cfg.Store = config.StoreConfig{Driver: a.StoreDriver, DSN: strings.TrimSpace(a.StoreDSN)}
	if cfg.Store.Driver == "memory" {
		cfg.Store.DSN = ""
	}

	if ids := splitList(a.AllowedUserIDs); len(ids) > 0 {
		cfg.Whitelist = config.WhitelistConfig{Enabled: true, UserIDs: ids}
	}

	account := func(platform string, settings map[string]any) {
		for k, v := range settings {
			if v == "" {
				delete(settings, k)
			}
		}
		cfg.Accounts[platform] = map[string]config.AccountConfig{
			"default": {Enabled: true, Settings: settings},
		}
	}
	for _, p := range a.Platforms {
		switch p {
		case "discord":
			account(p, map[string]any{"bot_token": a.DiscordToken, "webhook_url": a.DiscordWebhookURL})
		case "slack":
			account(p, map[string]any{"bot_token": a.SlackToken, "signing_secret": a.SlackSigning, "webhook_url": a.SlackWebhookURL})
		case "telegram":
			account(p, map[string]any{"bot_token": a.TelegramToken, "mode": a.TelegramMode})
		default:
			return nil, fmt.Errorf("unknown platform %q", p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) config.FlexibleStringSlice {
	var out config.FlexibleStringSlice
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
