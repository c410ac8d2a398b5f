package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/channels/discord"
	"github.com/nextlevelbuilder/clawgate/internal/channels/slack"
	"github.com/nextlevelbuilder/clawgate/internal/channels/telegram"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/internal/gateway/methods"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
	"github.com/nextlevelbuilder/clawgate/internal/pipeline"
	"github.com/nextlevelbuilder/clawgate/internal/sessions"
	"github.com/nextlevelbuilder/clawgate/internal/tracing"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.Enabled {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			// No config file at all → first time, redirect to onboard wizard.
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			runOnboard()
			return
		}
		fmt.Println("The gateway is disabled. Set \"enabled\": true in", cfgPath, "or export CLAWGATE_ENABLED=1.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		shutdownTracing(sctx)
	}()

	m := metrics.New()

	// Thread mappings: in memory, optionally backed by a persistent store.
	threadStore, err := openThreadStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open thread store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if threadStore != nil {
		defer threadStore.Close()
	}
	threads := sessions.NewThreadManager(threadStore)
	if err := threads.Load(ctx); err != nil {
		slog.Error("failed to load thread mappings", "error", err)
		os.Exit(1)
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		slog.Error("invalid routes", "error", err)
		os.Exit(1)
	}
	preparer := pipeline.NewPreparer(cfg, threads, resolver)

	queue := bus.NewMessageQueue(cfg.QueueCapacity)
	m.TrackQueue(queue)
	dispatcher := gateway.NewEventDispatcher(cfg.ReplayBufferSize, time.Duration(cfg.ReplayRetentionSec)*time.Second, m)
	dedupe := bus.NewDedupeCache(time.Duration(cfg.DedupeTTLSeconds)*time.Second, 100_000)

	registry := channels.NewRegistry()
	registry.Register(discord.New())
	registry.Register(slack.New())
	registry.Register(telegram.New())

	// Poll loops feed the same intake as webhooks. The server is created
	// after the manager, so the sink resolves it lazily.
	var server *gateway.Server
	sink := func(_ context.Context, msg bus.GatewayMessage) error {
		_, err := server.Submit(msg)
		if errors.Is(err, bus.ErrDuplicate) {
			return nil
		}
		return err
	}

	channelMgr := channels.NewManager(channels.ManagerDeps{
		Registry: registry,
		Config:   cfg,
		Outbound: channels.NewOutboundAdapter(cfg.OutboundRateLimit, m),
		Events:   dispatcher,
		Sink:     sink,
		Metrics:  m,
	})

	server = gateway.NewServer(cfg, gateway.ServerDeps{
		Queue:      queue,
		Dedupe:     dedupe,
		Dispatcher: dispatcher,
		Manager:    channelMgr,
		Metrics:    m,
	})

	methods.NewGatewayMethods(dispatcher, queue, channelMgr, threads).Register(server.Router())
	methods.NewMessageMethods(server, channelMgr, preparer, cfg).Register(server.Router())
	methods.NewThreadsMethods(threads, preparer, dispatcher).Register(server.Router())
	methods.NewPlatformsMethods(channelMgr, cfg).Register(server.Router())

	// Hot reload: whitelist, routes and thread defaults only.
	if watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
		r, err := buildResolver(next)
		if err != nil {
			slog.Warn("config reload rejected", "error", err)
			return
		}
		cfg.ApplyReloadable(next)
		preparer.SetResolver(r)
		dispatcher.Broadcast(bus.Event{
			Name:    protocol.EventConfigReloaded,
			Payload: map[string]any{"hash": next.Hash()},
		})
	}); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	qc, err := queue.TakeConsumer()
	if err != nil {
		slog.Error("failed to take queue consumer", "error", err)
		os.Exit(1)
	}
	consumer := gateway.NewConsumer(cfg, preparer, dispatcher, m)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx, qc)
	}()

	channelMgr.StartAll(ctx)
	go channelMgr.RunHealthMonitor(ctx, cfg.HealthCheckCron)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		channelMgr.StopAll(context.Background())
		queue.Close()
		cancel()
	}()

	slog.Info("clawgate gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"http_port", cfg.HTTPPort,
		"ws_port", cfg.WSPort,
		"store", cfg.Store.Driver,
		"platforms", registry.IDs(),
		"threads", threads.Count(nil),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		slog.Warn("consumer did not drain before shutdown")
	}
}

func buildResolver(cfg *config.Config) (*sessions.RouteResolver, error) {
	bindings, err := sessions.BindingsFromConfig(cfg.RoutesSnapshot())
	if err != nil {
		return nil, err
	}
	_, assistant := cfg.ThreadDefaults()
	return sessions.NewDefaultResolver(bindings, assistant), nil
}
