// Package protocol defines the wire frames exchanged between the gateway and
// a controlling client over WebSocket.
//
// Every frame is an object with a "type" discriminator. RPC uses
// req/res pairs correlated by a client-chosen id; the server pushes events
// with a gateway-assigned, monotonically increasing sequence number. The
// simple frames (ping, subscribe, message, ...) cover liveness, interest
// and inbound submission without an RPC round trip.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// Frame type discriminators.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"

	// client → server
	FrameTypePing        = "ping"
	FrameTypeSubscribe   = "subscribe"
	FrameTypeUnsubscribe = "unsubscribe"
	FrameTypeMessage     = "message"

	// server → client
	FrameTypePong   = "pong"
	FrameTypeError  = "error"
	FrameTypeStatus = "status"
)

// Error codes carried in ErrorShape.Code and ErrorFrame.Code.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrMethodNotFound = "METHOD_NOT_FOUND"
	ErrUnknownFrame   = "UNKNOWN_FRAME"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrUnavailable    = "UNAVAILABLE"
	ErrQueueFull      = "QUEUE_FULL"
	ErrRejected       = "REJECTED"
	ErrInternal       = "INTERNAL"
)

// RequestFrame is a client RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorShape describes a failed request.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseFrame answers one RequestFrame.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// EventFrame is a server push. Seq is assigned by the dispatcher.
type EventFrame struct {
	Type     string `json:"type"`
	Event    string `json:"event"`
	Platform string `json:"platform,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	Seq      uint64 `json:"seq"`
}

// PingFrame checks liveness; the server answers with a PongFrame echoing Nonce.
type PingFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce,omitempty"`
}

// PongFrame answers a PingFrame.
type PongFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce,omitempty"`
	Time  int64  `json:"time"` // server unix ms
}

// SubscribeFrame adds (or, with type "unsubscribe", removes) interest in
// one platform's events. "*" means every platform.
type SubscribeFrame struct {
	Type     string `json:"type"`
	Platform string `json:"platform"`
}

// MessageFrame submits an inbound message for processing (client → server)
// or carries a processed message to the client (server → client).
type MessageFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // optional correlation id
	Message json.RawMessage `json:"message"`
}

// ErrorFrame reports a problem with a simple frame.
type ErrorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFrame reports connection or submission state.
type StatusFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Status values.
const (
	StatusConnected    = "connected"
	StatusQueued       = "queued"
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// NewOKResponse builds a successful response.
func NewOKResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

// NewEvent builds an event frame; Seq is filled in by the dispatcher.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(id, code, message string) *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, ID: id, Code: code, Message: message}
}

// NewStatus builds a status frame.
func NewStatus(status, id string, payload any) *StatusFrame {
	return &StatusFrame{Type: FrameTypeStatus, Status: status, ID: id, Payload: payload}
}

// ErrMissingType is returned for frames without a type discriminator.
var ErrMissingType = errors.New("frame has no type")

// ParseFrameType extracts the "type" field of a JSON frame.
func ParseFrameType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}
