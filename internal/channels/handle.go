package channels

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// ChannelHandle is a live account connection returned by StartAccount.
// Counters and the active flag are atomics so poll loops and the health
// monitor can read them without locking.
type ChannelHandle struct {
	Platform  bus.Platform
	AccountID string

	active      atomic.Bool
	connectedAt atomic.Int64 // unix ms, 0 = never
	messages    atomic.Int64

	mu    sync.Mutex
	state any // plugin-owned connection state
	stop  func()
}

// NewChannelHandle returns an inactive handle.
func NewChannelHandle(platform bus.Platform, accountID string) *ChannelHandle {
	return &ChannelHandle{Platform: platform, AccountID: accountID}
}

// Key is "platform/account".
func (h *ChannelHandle) Key() string {
	return HandleKey(h.Platform, h.AccountID)
}

// HandleKey builds the key used to index handles.
func HandleKey(platform bus.Platform, accountID string) string {
	return string(platform) + "/" + accountID
}

// MarkConnected sets the handle active and records the connect time.
func (h *ChannelHandle) MarkConnected() {
	h.connectedAt.Store(time.Now().UnixMilli())
	h.active.Store(true)
}

// MarkDisconnected clears the active flag.
func (h *ChannelHandle) MarkDisconnected() { h.active.Store(false) }

// Active reports whether the connection is live.
func (h *ChannelHandle) Active() bool { return h.active.Load() }

// ConnectedAt returns the last connect time, zero if never connected.
func (h *ChannelHandle) ConnectedAt() time.Time {
	ms := h.connectedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RecordMessage bumps the message counter.
func (h *ChannelHandle) RecordMessage() { h.messages.Add(1) }

// MessageCount returns messages seen or sent on this handle.
func (h *ChannelHandle) MessageCount() int64 { return h.messages.Load() }

// SetState stores plugin-specific connection state and an optional stop
// function run by Stop.
func (h *ChannelHandle) SetState(state any, stop func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.stop = stop
}

// State returns the plugin-specific connection state.
func (h *ChannelHandle) State() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stop runs the stop function once and marks the handle disconnected.
func (h *ChannelHandle) Stop() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	h.mu.Unlock()

	h.MarkDisconnected()
	if stop != nil {
		stop()
	}
}

// HandleStatus is a point-in-time view of a handle.
type HandleStatus struct {
	Platform     bus.Platform `json:"platform"`
	AccountID    string       `json:"account_id"`
	Active       bool         `json:"active"`
	ConnectedAt  int64        `json:"connected_at,omitempty"` // unix ms
	MessageCount int64        `json:"message_count"`
}

// Status snapshots the handle.
func (h *ChannelHandle) Status() HandleStatus {
	return HandleStatus{
		Platform:     h.Platform,
		AccountID:    h.AccountID,
		Active:       h.Active(),
		ConnectedAt:  h.connectedAt.Load(),
		MessageCount: h.MessageCount(),
	}
}
