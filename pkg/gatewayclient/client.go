// Package gatewayclient is a Go client for the clawgate controlling
// WebSocket. It correlates RPC responses with requests and exposes pushed
// events on a channel.
package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("gateway client closed")

// RPCError is a failed RPC response.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string { return e.Code + ": " + e.Message }

// Options configure Dial.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:4282/ws.
	URL      string
	Token    string
	ClientID string // reuse to resume a previous session's replay buffer
	Encoding string // "json" (default) or "cbor"

	// EventBuffer sizes the Events channel. Events that do not fit are
	// dropped and counted; use EventsSince to recover them.
	EventBuffer int
}

// Hello is the payload of the connected status frame.
type Hello struct {
	ClientID string `json:"client_id"`
	Resumed  bool   `json:"resumed"`
	LastSeq  uint64 `json:"last_seq"`
	Protocol int    `json:"protocol"`
	Encoding string `json:"encoding"`
}

// Client is one connection to the gateway. Safe for concurrent use.
type Client struct {
	conn  *websocket.Conn
	codec protocol.Codec
	hello Hello

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *protocol.ResponseFrame

	events  chan protocol.EventFrame
	dropped atomic.Int64

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// Dial connects and waits for the connected status frame.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	codec, err := protocol.CodecFor(opts.Encoding)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	if opts.ClientID != "" {
		q.Set("client_id", opts.ClientID)
	}
	q.Set("encoding", codec.Name())
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	c := &Client{
		conn:    conn,
		codec:   codec,
		pending: make(map[string]chan *protocol.ResponseFrame),
		events:  make(chan protocol.EventFrame, buf),
		done:    make(chan struct{}),
	}

	raw, err := c.read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello")
		return nil, fmt.Errorf("read connected status: %w", err)
	}
	var status struct {
		protocol.StatusFrame
		Payload Hello `json:"payload"`
	}
	if err := json.Unmarshal(raw, &status); err != nil || status.Status != protocol.StatusConnected {
		conn.Close(websocket.StatusProtocolError, "unexpected first frame")
		return nil, fmt.Errorf("unexpected first frame: %s", raw)
	}
	c.hello = status.Payload

	go c.readLoop()
	return c, nil
}

// Hello returns the connected status received at dial time.
func (c *Client) Hello() Hello { return c.hello }

// Events delivers pushed events in sequence order.
func (c *Client) Events() <-chan protocol.EventFrame { return c.events }

// Dropped returns how many events did not fit in the Events buffer.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.fail(ErrClosed)
	return err
}

func (c *Client) read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return c.codec.ToJSON(data)
}

func (c *Client) write(ctx context.Context, frame any) error {
	data, err := c.codec.Marshal(frame)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, typ, data)
}

func (c *Client) fail(err error) {
	c.errOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		raw, err := c.read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		typ, err := protocol.ParseFrameType(raw)
		if err != nil {
			continue
		}
		switch typ {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if json.Unmarshal(raw, &resp) != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- &resp
			}
		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			if json.Unmarshal(raw, &ev) != nil {
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.dropped.Add(1)
			}
		}
	}
}

// Call sends one RPC and decodes the response payload into out (which may
// be nil). A failed response is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan *protocol.ResponseFrame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := c.write(ctx, req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	case resp := <-ch:
		if !resp.OK {
			if resp.Error == nil {
				return &RPCError{Code: protocol.ErrInternal, Message: "request failed"}
			}
			return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if out == nil || resp.Payload == nil {
			return nil
		}
		b, err := json.Marshal(resp.Payload)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}
}
