package bus

import (
	"sync"
	"time"
)

// InboundDebouncer merges rapid messages from the same sender in the same
// channel into a single message. Each new message restarts the window; when
// the window elapses the merged message is handed to flush.
type InboundDebouncer struct {
	window time.Duration
	flush  func(GatewayMessage)

	mu      sync.Mutex
	pending map[string]*pendingInbound
	stopped bool
}

type pendingInbound struct {
	msg   GatewayMessage
	timer *time.Timer
}

// NewInboundDebouncer creates a debouncer. A non-positive window disables
// merging: Push calls flush synchronously.
func NewInboundDebouncer(window time.Duration, flush func(GatewayMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingInbound),
	}
}

func debounceKey(msg GatewayMessage) string {
	return string(msg.Platform) + "|" + msg.ChannelID + "|" + msg.UserID
}

// Push adds msg to its sender's pending batch.
func (d *InboundDebouncer) Push(msg GatewayMessage) {
	if d.window <= 0 {
		d.flush(msg)
		return
	}

	key := debounceKey(msg)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.flush(msg)
		return
	}
	if p, ok := d.pending[key]; ok {
		p.msg = mergeInbound(p.msg, msg)
		p.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}
	p := &pendingInbound{msg: msg}
	p.timer = time.AfterFunc(d.window, func() { d.fire(key, p) })
	d.pending[key] = p
	d.mu.Unlock()
}

func (d *InboundDebouncer) fire(key string, p *pendingInbound) {
	d.mu.Lock()
	cur, ok := d.pending[key]
	if !ok || cur != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	msg := p.msg
	d.mu.Unlock()

	d.flush(msg)
}

// Pending returns the number of senders with an open window.
func (d *InboundDebouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop flushes every open batch immediately. Later pushes bypass the window.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	batch := make([]GatewayMessage, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		batch = append(batch, p.msg)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, msg := range batch {
		d.flush(msg)
	}
}

// mergeInbound appends next onto prev. The newest id and timestamp win so
// replies thread onto the latest message.
func mergeInbound(prev, next GatewayMessage) GatewayMessage {
	merged := next
	if prev.Content != "" && next.Content != "" {
		merged.Content = prev.Content + "\n" + next.Content
	} else if next.Content == "" {
		merged.Content = prev.Content
	}
	if len(prev.Metadata) > 0 {
		meta := make(map[string]any, len(prev.Metadata)+len(next.Metadata))
		for k, v := range prev.Metadata {
			meta[k] = v
		}
		for k, v := range next.Metadata {
			meta[k] = v
		}
		merged.Metadata = meta
	}
	return merged
}
