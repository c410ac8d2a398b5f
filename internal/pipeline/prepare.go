package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/sessions"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/clawgate/internal/pipeline")

// RejectedError is returned when a message fails the pipeline before a
// thread could be chosen.
type RejectedError struct {
	Stage  Stage
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("message rejected at %s: %s", e.Stage, e.Reason)
}

// ErrNoThread is returned when no mapping exists and auto-create is off.
var ErrNoThread = errors.New("no thread mapped and auto-create disabled")

// Prepared is what the owning application needs to process a message.
// When IsNew is true the application creates the thread and confirms it
// with Preparer.ConfirmThread (or the threads.add method).
type Prepared struct {
	ThreadID    string                `json:"thread_id"`
	IsNew       bool                  `json:"is_new"`
	AssistantID string                `json:"assistant_id,omitempty"`
	SessionKey  string                `json:"session_key"`
	Message     bus.NormalizedMessage `json:"message"`
}

// WhitelistSource supplies the current whitelist. *config.Config satisfies it.
type WhitelistSource interface {
	WhitelistSnapshot() config.WhitelistConfig
}

// Preparer combines the pipeline, the thread manager and route resolution.
// Safe for concurrent use; the resolver can be swapped on config reload.
type Preparer struct {
	whitelist WhitelistSource
	threads   *sessions.ThreadManager
	resolver  atomic.Pointer[sessions.RouteResolver]

	// pending holds synthesized thread ids awaiting confirmation, so a burst
	// of messages on a new channel maps onto one new thread.
	pendingMu sync.Mutex
	pending   map[string]string
}

// NewPreparer creates a Preparer. resolver may be nil (assistant comes from
// the default passed per call).
func NewPreparer(wl WhitelistSource, threads *sessions.ThreadManager, resolver *sessions.RouteResolver) *Preparer {
	p := &Preparer{
		whitelist: wl,
		threads:   threads,
		pending:   make(map[string]string),
	}
	if resolver != nil {
		p.resolver.Store(resolver)
	}
	return p
}

// SetResolver replaces the route resolver.
func (p *Preparer) SetResolver(r *sessions.RouteResolver) {
	p.resolver.Store(r)
}

// PrepareMessageForProcessing runs the pipeline and resolves the target
// thread and assistant. An existing mapping wins; otherwise, when
// autoCreate is set, a new thread id is synthesized and IsNew is true.
func (p *Preparer) PrepareMessageForProcessing(ctx context.Context, msg bus.GatewayMessage, autoCreate bool, defaultAssistant string) (Prepared, error) {
	ctx, span := tracer.Start(ctx, "pipeline.prepare")
	defer span.End()
	span.SetAttributes(
		attribute.String("platform", msg.Platform.String()),
		attribute.String("message.id", msg.ID),
	)

	var wl config.WhitelistConfig
	if p.whitelist != nil {
		wl = p.whitelist.WhitelistSnapshot()
	}

	res := ProcessMessage(msg, wl, autoCreate)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
		return Prepared{}, &RejectedError{Stage: res.FailedAt, Reason: res.Error}
	}

	key := sessions.SessionKeyFromMessage(msg)
	out := Prepared{
		Message:     *res.Message,
		SessionKey:  key.String(),
		AssistantID: defaultAssistant,
	}
	if r := p.resolver.Load(); r != nil {
		if b, ok := r.Resolve(key); ok && b.AgentID != "" {
			out.AssistantID = b.AgentID
		}
	}

	if id, ok := p.threads.ThreadIDFor(msg.Platform, msg.ChannelID); ok {
		p.threads.Touch(ctx, msg.Platform, msg.ChannelID)
		out.ThreadID = id
		span.SetAttributes(attribute.Bool("thread.new", false))
		return out, nil
	}

	if !autoCreate {
		span.SetStatus(codes.Error, ErrNoThread.Error())
		return out, ErrNoThread
	}

	mk := store.MappingKey(msg.Platform, msg.ChannelID)
	p.pendingMu.Lock()
	id, ok := p.pending[mk]
	if !ok {
		id = uuid.NewString()
		p.pending[mk] = id
	}
	p.pendingMu.Unlock()

	out.ThreadID = id
	out.IsNew = true
	span.SetAttributes(attribute.Bool("thread.new", true))
	return out, nil
}

// ConfirmThread records the mapping once the application has created the
// thread. It replaces any existing mapping for the same channel.
func (p *Preparer) ConfirmThread(ctx context.Context, platform bus.Platform, externalID, threadID string) (store.ThreadMapping, error) {
	p.pendingMu.Lock()
	delete(p.pending, store.MappingKey(platform, externalID))
	p.pendingMu.Unlock()
	return p.threads.AddOrReplace(ctx, platform, externalID, threadID)
}

// PendingThreads returns the number of synthesized ids not yet confirmed.
func (p *Preparer) PendingThreads() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}
