package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Manager runs the configured accounts of every registered plugin and
// routes outbound responses to the right handle.
type Manager struct {
	registry *Registry
	cfg      *config.Config
	outbound *OutboundAdapter
	events   bus.EventPublisher
	sink     InboundSink
	metrics  *metrics.Metrics

	mu        sync.Mutex
	handles   map[string]*ChannelHandle // HandleKey → handle
	health    map[string]HealthStatus   // last reported status
	lifecycle map[string]*sync.Mutex    // HandleKey → start/stop serializer
}

// ManagerDeps are the collaborators of a Manager. Events, Sink and Metrics
// may be nil.
type ManagerDeps struct {
	Registry *Registry
	Config   *config.Config
	Outbound *OutboundAdapter
	Events   bus.EventPublisher
	Sink     InboundSink
	Metrics  *metrics.Metrics
}

// NewManager creates a manager.
func NewManager(d ManagerDeps) *Manager {
	out := d.Outbound
	if out == nil {
		out = NewOutboundAdapter(config.RateLimitConfig{}, d.Metrics)
	}
	return &Manager{
		registry: d.Registry,
		cfg:      d.Config,
		outbound: out,
		events:   d.Events,
		sink:     d.Sink,
		metrics:  d.Metrics,
		handles:   make(map[string]*ChannelHandle),
		health:    make(map[string]HealthStatus),
		lifecycle: make(map[string]*sync.Mutex),
	}
}

// lockAccount serializes start and stop of one account. Entries are never
// removed; there is one per configured account.
func (m *Manager) lockAccount(key string) func() {
	m.mu.Lock()
	l, ok := m.lifecycle[key]
	if !ok {
		l = &sync.Mutex{}
		m.lifecycle[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Registry returns the plugin registry.
func (m *Manager) Registry() *Registry { return m.registry }

// StartAll starts every enabled, configured account. Failures are logged
// and reported as platform.error events; other accounts still start.
func (m *Manager) StartAll(ctx context.Context) {
	started := 0
	for _, p := range m.registry.List() {
		for _, id := range p.ListAccountIDs(m.cfg) {
			acct := p.ResolveAccount(m.cfg, id)
			if !acct.Enabled {
				slog.Debug("channel account disabled", "platform", p.Meta().ID, "account", id)
				continue
			}
			if err := m.StartAccount(ctx, p.Meta().Platform, id); err != nil {
				continue
			}
			started++
		}
	}
	if started == 0 {
		slog.Warn("no channel accounts started")
		return
	}
	slog.Info("channel accounts started", "count", started)
}

// StartAccount starts one account. An already running account is restarted.
func (m *Manager) StartAccount(ctx context.Context, platform bus.Platform, accountID string) error {
	p, err := m.registry.ForPlatform(platform)
	if err != nil {
		return err
	}
	acct := p.ResolveAccount(m.cfg, accountID)
	if !p.IsConfigured(acct, m.cfg) {
		err := ConfigError(platform, "start", fmt.Errorf("account %q is not configured", accountID))
		m.reportError(platform, accountID, err)
		return err
	}

	unlock := m.lockAccount(HandleKey(platform, accountID))
	defer unlock()

	_ = m.stopAccount(ctx, platform, accountID)

	params := StartParams{
		AccountID: accountID,
		Account:   acct,
		Config:    p.DefaultConfig(),
		Sink:      m.sink,
	}
	h, err := p.StartAccount(ctx, params)
	if err != nil {
		slog.Error("failed to start channel account", "platform", platform, "account", accountID, "error", err)
		m.reportError(platform, accountID, err)
		return err
	}

	m.mu.Lock()
	prev := m.handles[h.Key()]
	m.handles[h.Key()] = h
	m.health[h.Key()] = Healthy
	m.mu.Unlock()

	if prev != nil && prev != h {
		_ = m.stopHandle(ctx, prev)
	}

	slog.Info("channel account started", "platform", platform, "account", accountID)
	m.setUp(platform, accountID, true)
	m.publish(protocol.EventPlatformConnected, platform, h.Status())
	return nil
}

// StopAccount stops one account. Stopping an account that is not running
// returns a NotAvailable error.
func (m *Manager) StopAccount(ctx context.Context, platform bus.Platform, accountID string) error {
	unlock := m.lockAccount(HandleKey(platform, accountID))
	defer unlock()
	return m.stopAccount(ctx, platform, accountID)
}

// stopAccount stops one account. Caller holds the account's lifecycle lock.
func (m *Manager) stopAccount(ctx context.Context, platform bus.Platform, accountID string) error {
	key := HandleKey(platform, accountID)

	m.mu.Lock()
	h, ok := m.handles[key]
	delete(m.handles, key)
	delete(m.health, key)
	m.mu.Unlock()

	if !ok {
		return &PluginError{Kind: KindNotAvailable, Platform: platform, Op: "stop", Err: fmt.Errorf("account %q not running", accountID)}
	}
	return m.stopHandle(ctx, h)
}

func (m *Manager) stopHandle(ctx context.Context, h *ChannelHandle) error {
	p, err := m.registry.ForPlatform(h.Platform)
	if err != nil {
		h.Stop()
		return err
	}
	if err := p.StopAccount(ctx, h); err != nil {
		slog.Error("error stopping channel account", "platform", h.Platform, "account", h.AccountID, "error", err)
		return err
	}
	m.setUp(h.Platform, h.AccountID, false)
	m.publish(protocol.EventPlatformDisconnected, h.Platform, h.Status())
	return nil
}

// StopAll stops every running account.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*ChannelHandle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*ChannelHandle)
	m.health = make(map[string]HealthStatus)
	m.mu.Unlock()

	for _, h := range handles {
		_ = m.stopHandle(ctx, h)
	}
	slog.Info("channel accounts stopped", "count", len(handles))
}

// Handle returns the running handle of an account. An empty accountID
// selects the first active account of the platform in id order.
func (m *Manager) Handle(platform bus.Platform, accountID string) (*ChannelHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accountID != "" {
		h, ok := m.handles[HandleKey(platform, accountID)]
		return h, ok
	}
	var best *ChannelHandle
	for _, h := range m.handles {
		if h.Platform != platform || !h.Active() {
			continue
		}
		if best == nil || h.AccountID < best.AccountID {
			best = h
		}
	}
	return best, best != nil
}

// Send delivers resp via the platform's plugin and running account.
func (m *Manager) Send(ctx context.Context, resp bus.GatewayResponse, accountID string) ([]DeliveryResult, error) {
	p, err := m.registry.ForPlatform(resp.Platform)
	if err != nil {
		return nil, err
	}
	h, ok := m.Handle(resp.Platform, accountID)
	if !ok {
		return nil, &PluginError{Kind: KindNotAvailable, Platform: resp.Platform, Op: "send", Err: fmt.Errorf("no running account")}
	}
	results := m.outbound.FormatAndSend(ctx, p, h, resp)
	m.publish(protocol.EventMessageDelivered, resp.Platform, map[string]any{
		"channel_id": resp.ChannelID,
		"account_id": h.AccountID,
		"results":    results,
		"failed":     FailedChunks(results),
	})
	return results, nil
}

// Statuses returns every running handle, sorted by key.
func (m *Manager) Statuses() []HandleStatus {
	m.mu.Lock()
	out := make([]HandleStatus, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.Status())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// CheckHealth runs one health check over every handle and publishes
// transitions.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*ChannelHandle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		p, err := m.registry.ForPlatform(h.Platform)
		if err != nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, p.DefaultConfig().RequestTimeout)
		status := p.HealthCheck(checkCtx, h)
		cancel()

		m.mu.Lock()
		prev, tracked := m.health[h.Key()]
		if tracked {
			m.health[h.Key()] = status
		}
		m.mu.Unlock()
		if !tracked || prev == status {
			continue
		}

		slog.Info("channel health changed", "platform", h.Platform, "account", h.AccountID, "status", status)
		m.setUp(h.Platform, h.AccountID, status == Healthy)
		if status == Healthy {
			m.publish(protocol.EventPlatformConnected, h.Platform, h.Status())
		} else {
			m.publish(protocol.EventPlatformDisconnected, h.Platform, h.Status())
		}
	}
}

// RunHealthMonitor runs CheckHealth on the cron schedule expr until ctx
// is cancelled.
func (m *Manager) RunHealthMonitor(ctx context.Context, expr string) {
	if expr == "" {
		expr = config.DefaultHealthCheckCron
	}
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			slog.Error("invalid health check schedule", "cron", expr, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.CheckHealth(ctx)
		}
	}
}

func (m *Manager) reportError(platform bus.Platform, accountID string, err error) {
	m.setUp(platform, accountID, false)
	m.publish(protocol.EventPlatformError, platform, map[string]any{
		"platform":   platform,
		"account_id": accountID,
		"kind":       KindOf(err).String(),
		"error":      err.Error(),
	})
}

func (m *Manager) setUp(platform bus.Platform, accountID string, up bool) {
	if m.metrics == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.metrics.PlatformUp.WithLabelValues(string(platform), accountID).Set(v)
}

func (m *Manager) publish(name string, platform bus.Platform, payload any) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Event{Name: name, Platform: platform, Payload: payload})
}
