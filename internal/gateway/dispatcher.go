package gateway

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// ErrUnknownClient is returned for client ids the dispatcher has no state for.
var ErrUnknownClient = errors.New("unknown client")

const (
	DefaultReplayBuffer    = 256
	DefaultReplayRetention = 5 * time.Minute
)

// clientState is everything the dispatcher keeps per client id. It
// survives a disconnect for the retention window so a reconnecting client
// can catch up from its last sequence.
type clientState struct {
	subs       map[string]bool // platform ids or protocol.SubscribeAll
	ring       []protocol.EventFrame
	next       int // ring write position once full
	full       bool
	deliver    func(protocol.EventFrame) // nil while detached
	gen        uint64
	detachedAt time.Time
}

func (c *clientState) record(ev protocol.EventFrame) {
	if !c.full {
		c.ring = append(c.ring, ev)
		if len(c.ring) == cap(c.ring) {
			c.full = true
		}
		return
	}
	c.ring[c.next] = ev
	c.next = (c.next + 1) % len(c.ring)
}

// since returns buffered events with Seq > seq, oldest first.
func (c *clientState) since(seq uint64) []protocol.EventFrame {
	ordered := c.ring
	if c.full {
		ordered = append(append([]protocol.EventFrame(nil), c.ring[c.next:]...), c.ring[:c.next]...)
	}
	out := make([]protocol.EventFrame, 0, len(ordered))
	for _, ev := range ordered {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func (c *clientState) wants(platform bus.Platform) bool {
	if platform == "" || c.subs[protocol.SubscribeAll] {
		return true
	}
	return c.subs[string(platform)]
}

// EventDispatcher fans events out to in-process subscribers and to
// connected clients. Every event gets a gateway-wide sequence number; each
// client keeps a bounded replay buffer of the events it was interested in.
// One mutex guards the client table; delivery happens after it is released,
// in sequence order.
type EventDispatcher struct {
	bufSize   int
	retention time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	order    sync.Mutex // serializes Broadcast delivery
	mu       sync.Mutex
	seq      uint64
	gen      uint64
	clients  map[string]*clientState
	handlers map[string]bus.EventHandler
}

// NewEventDispatcher creates a dispatcher. Non-positive sizes take the
// defaults. m may be nil.
func NewEventDispatcher(bufSize int, retention time.Duration, m *metrics.Metrics) *EventDispatcher {
	if bufSize <= 0 {
		bufSize = DefaultReplayBuffer
	}
	if retention <= 0 {
		retention = DefaultReplayRetention
	}
	return &EventDispatcher{
		bufSize:   bufSize,
		retention: retention,
		metrics:   m,
		now:       time.Now,
		clients:   make(map[string]*clientState),
		handlers:  make(map[string]bus.EventHandler),
	}
}

// Subscribe registers an in-process handler. It receives every event,
// internal ones included.
func (d *EventDispatcher) Subscribe(id string, handler bus.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[id] = handler
}

// Unsubscribe removes an in-process handler.
func (d *EventDispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, id)
}

// Broadcast assigns the next sequence number and delivers the event.
// Internal events only reach in-process handlers.
func (d *EventDispatcher) Broadcast(event bus.Event) {
	d.mu.Lock()
	handlers := make([]bus.EventHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	if protocol.IsInternalEvent(event.Name) {
		return
	}

	// order is held from sequence assignment through delivery so every
	// live client sees frames in sequence order.
	d.order.Lock()
	defer d.order.Unlock()

	d.mu.Lock()
	d.seq++
	frame := *protocol.NewEvent(event.Name, event.Payload)
	frame.Platform = string(event.Platform)
	frame.Seq = d.seq
	var delivers []func(protocol.EventFrame)
	for _, c := range d.clients {
		if !c.wants(event.Platform) {
			continue
		}
		c.record(frame)
		if c.deliver != nil {
			delivers = append(delivers, c.deliver)
		}
	}
	d.mu.Unlock()

	for _, deliver := range delivers {
		deliver(frame)
	}
	d.metrics.Event(event.Name)
}

// Attach connects deliver to the client's state, creating it when the id
// is new or its detached state expired. It returns a generation token for
// Detach and whether earlier state was resumed. A second connection with
// the same id takes over delivery. deliver must not block or call back
// into the dispatcher.
func (d *EventDispatcher) Attach(clientID string, deliver func(protocol.EventFrame)) (gen uint64, resumed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked()

	d.gen++
	c, ok := d.clients[clientID]
	if !ok {
		c = &clientState{
			subs: map[string]bool{protocol.SubscribeAll: true},
			ring: make([]protocol.EventFrame, 0, d.bufSize),
		}
		d.clients[clientID] = c
	}
	c.deliver = deliver
	c.gen = d.gen
	c.detachedAt = time.Time{}
	return d.gen, ok
}

// Detach stops delivery to a client if gen is still the current
// connection. The client's state is kept for the retention window.
func (d *EventDispatcher) Detach(clientID string, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok || c.gen != gen {
		return
	}
	c.deliver = nil
	c.detachedAt = d.now()
}

// Sweep drops detached clients whose retention expired.
func (d *EventDispatcher) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked()
}

func (d *EventDispatcher) sweepLocked() int {
	now := d.now()
	n := 0
	for id, c := range d.clients {
		if c.deliver == nil && !c.detachedAt.IsZero() && now.Sub(c.detachedAt) >= d.retention {
			delete(d.clients, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("expired detached clients", "count", n)
	}
	return n
}

// ValidSubscription reports whether platform is "*" or a supported platform id.
func ValidSubscription(platform string) bool {
	return platform == protocol.SubscribeAll || bus.Platform(platform).Known()
}

// AddSubscription subscribes a client to a platform id or "*".
func (d *EventDispatcher) AddSubscription(clientID, platform string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	c.subs[platform] = true
	return nil
}

// RemoveSubscription unsubscribes a client. Removing "*" clears every
// subscription.
func (d *EventDispatcher) RemoveSubscription(clientID, platform string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if platform == protocol.SubscribeAll {
		c.subs = make(map[string]bool)
		return nil
	}
	delete(c.subs, platform)
	return nil
}

// Subscriptions returns a client's subscriptions, sorted.
func (d *EventDispatcher) Subscriptions(clientID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// EventsSince returns the client's buffered events with a sequence greater
// than seq. Events older than the buffer window are gone.
func (d *EventDispatcher) EventsSince(clientID string, seq uint64) ([]protocol.EventFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return c.since(seq), nil
}

// LastSeq returns the most recently assigned sequence number.
func (d *EventDispatcher) LastSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// ClientCount returns attached and detached client counts.
func (d *EventDispatcher) ClientCount() (attached, detached int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clients {
		if c.deliver != nil {
			attached++
		} else {
			detached++
		}
	}
	return attached, detached
}
