package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Client is one controlling-client WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	codec  protocol.Codec
	server *Server

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, codec protocol.Codec, s *Server) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		codec:  codec,
		server: s,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the client id (the client_id query parameter or a generated one).
func (c *Client) ID() string { return c.id }

// Encoding returns the codec name negotiated for this connection.
func (c *Client) Encoding() string { return c.codec.Name() }

// Run pumps frames until the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// Close closes the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// SendResponse queues an RPC response.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) { c.SendFrame(resp) }

// SendEvent queues an event frame.
func (c *Client) SendEvent(ev protocol.EventFrame) { c.SendFrame(ev) }

// SendFrame encodes and queues any frame. A client whose buffer is full is
// too slow to keep up; the frame is dropped and can be recovered through
// events.since.
func (c *Client) SendFrame(frame any) {
	data, err := c.codec.Marshal(frame)
	if err != nil {
		slog.Error("encode frame failed", "client", c.id, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame", "client", c.id)
	}
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		codec := c.codec
		if msgType == websocket.TextMessage {
			codec = protocol.JSONCodec{}
		} else if msgType == websocket.BinaryMessage && !codec.Binary() {
			codec = protocol.CBORCodec{}
		}
		raw, err := codec.ToJSON(data)
		if err != nil {
			c.SendFrame(protocol.NewErrorFrame("", protocol.ErrInvalidRequest, err.Error()))
			continue
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				slog.Debug("websocket write error", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	frameType, err := protocol.ParseFrameType(raw)
	if err != nil {
		c.SendFrame(protocol.NewErrorFrame("", protocol.ErrInvalidRequest, err.Error()))
		return
	}

	switch frameType {
	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil || req.ID == "" || req.Method == "" {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "request needs id and method"))
			return
		}
		c.server.router.Handle(ctx, c, &req)

	case protocol.FrameTypePing:
		var ping protocol.PingFrame
		_ = json.Unmarshal(raw, &ping)
		c.SendFrame(protocol.PongFrame{Type: protocol.FrameTypePong, Nonce: ping.Nonce, Time: time.Now().UnixMilli()})

	case protocol.FrameTypeSubscribe, protocol.FrameTypeUnsubscribe:
		var sub protocol.SubscribeFrame
		if err := json.Unmarshal(raw, &sub); err != nil || !ValidSubscription(sub.Platform) {
			c.SendFrame(protocol.NewErrorFrame("", protocol.ErrInvalidRequest, "subscribe needs a platform id or \"*\""))
			return
		}
		c.handleSubscribe(frameType == protocol.FrameTypeSubscribe, sub.Platform)

	case protocol.FrameTypeMessage:
		var mf protocol.MessageFrame
		if err := json.Unmarshal(raw, &mf); err != nil {
			c.SendFrame(protocol.NewErrorFrame("", protocol.ErrInvalidRequest, err.Error()))
			return
		}
		var msg bus.GatewayMessage
		if err := json.Unmarshal(mf.Message, &msg); err != nil {
			c.SendFrame(protocol.NewErrorFrame(mf.ID, protocol.ErrInvalidRequest, "invalid message: "+err.Error()))
			return
		}
		id, err := c.server.Submit(msg)
		if err != nil {
			code := protocol.ErrInternal
			switch {
			case errors.Is(err, bus.ErrQueueFull):
				code = protocol.ErrQueueFull
			case errors.Is(err, bus.ErrDuplicate):
				code = protocol.ErrRejected
			case errors.Is(err, bus.ErrQueueClosed):
				code = protocol.ErrUnavailable
			}
			c.SendFrame(protocol.NewErrorFrame(mf.ID, code, err.Error()))
			return
		}
		c.SendFrame(protocol.NewStatus(protocol.StatusQueued, mf.ID, map[string]any{"message_id": id}))

	default:
		c.SendFrame(protocol.NewErrorFrame("", protocol.ErrUnknownFrame, "unknown frame type "+frameType))
	}
}

func (c *Client) handleSubscribe(subscribe bool, platform string) {
	d := c.server.dispatcher
	var err error
	status := protocol.StatusSubscribed
	if subscribe {
		err = d.AddSubscription(c.id, platform)
	} else {
		err = d.RemoveSubscription(c.id, platform)
		status = protocol.StatusUnsubscribed
	}
	if err != nil {
		c.SendFrame(protocol.NewErrorFrame("", protocol.ErrNotFound, err.Error()))
		return
	}
	subs, _ := d.Subscriptions(c.id)
	c.SendFrame(protocol.NewStatus(status, "", map[string]any{"platform": platform, "subscriptions": subs}))
}
