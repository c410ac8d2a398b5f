package gatewayclient

import (
	"context"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Ping calls gateway.ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, protocol.MethodPing, nil, nil)
}

// Status calls gateway.status and returns the raw status object.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, protocol.MethodStatus, nil, &out)
	return out, err
}

// Subscribe adds a platform id (or "*") to this client's subscriptions and
// returns the resulting set.
func (c *Client) Subscribe(ctx context.Context, platform string) ([]string, error) {
	return c.subscription(ctx, protocol.MethodSubscribe, platform)
}

// Unsubscribe removes a platform id; "*" clears every subscription.
func (c *Client) Unsubscribe(ctx context.Context, platform string) ([]string, error) {
	return c.subscription(ctx, protocol.MethodUnsubscribe, platform)
}

func (c *Client) subscription(ctx context.Context, method, platform string) ([]string, error) {
	var out struct {
		Subscriptions []string `json:"subscriptions"`
	}
	err := c.Call(ctx, method, map[string]string{"platform": platform}, &out)
	return out.Subscriptions, err
}

// EventsSince returns buffered events with a sequence greater than seq.
func (c *Client) EventsSince(ctx context.Context, seq uint64) ([]protocol.EventFrame, uint64, error) {
	var out struct {
		Events  []protocol.EventFrame `json:"events"`
		LastSeq uint64                `json:"last_seq"`
	}
	err := c.Call(ctx, protocol.MethodEventsSince, map[string]uint64{"seq": seq}, &out)
	return out.Events, out.LastSeq, err
}

// Submit enqueues an inbound message (any value encoding to the
// GatewayMessage JSON shape) and returns its id.
func (c *Client) Submit(ctx context.Context, msg any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.Call(ctx, protocol.MethodMessageSubmit, map[string]any{"message": msg}, &out)
	return out.ID, err
}

// Reply is an outbound response for message.reply.
type Reply struct {
	Platform  string   `json:"platform"`
	ChannelID string   `json:"channel_id"`
	Content   string   `json:"content"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

// ChunkResult is the delivery outcome of one chunk.
type ChunkResult struct {
	ChunkIndex int    `json:"chunk_index"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// ReplyResult reports per-chunk delivery.
type ReplyResult struct {
	Results []ChunkResult `json:"results"`
	Failed  []int         `json:"failed"`
}

// SendReply calls message.reply.
func (c *Client) SendReply(ctx context.Context, r Reply) (ReplyResult, error) {
	var out ReplyResult
	err := c.Call(ctx, protocol.MethodMessageReply, r, &out)
	return out, err
}

// AddThread maps a platform channel to a host thread (threads.add).
func (c *Client) AddThread(ctx context.Context, platform, externalID, threadID string) error {
	return c.Call(ctx, protocol.MethodThreadsAdd, map[string]string{
		"platform": platform, "external_id": externalID, "thread_id": threadID,
	}, nil)
}

// Account is one configured account in a platforms.list result.
type Account struct {
	AccountID    string `json:"account_id"`
	Enabled      bool   `json:"enabled"`
	Configured   bool   `json:"configured"`
	Running      bool   `json:"running"`
	Active       bool   `json:"active"`
	MessageCount int64  `json:"message_count"`
}

// Platform is one registered plugin in a platforms.list result.
type Platform struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	DisplayName string    `json:"display_name"`
	ChunkLimit  int       `json:"chunk_limit"`
	Accounts    []Account `json:"accounts"`
}

// Platforms calls platforms.list.
func (c *Client) Platforms(ctx context.Context) ([]Platform, error) {
	var out struct {
		Platforms []Platform `json:"platforms"`
	}
	err := c.Call(ctx, protocol.MethodPlatformsList, nil, &out)
	return out.Platforms, err
}
