// Package methods implements the RPC methods served on the controlling
// WebSocket. Each group registers its handlers on a gateway.MethodRouter.
package methods

import (
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Submitter accepts an inbound message. *gateway.Server satisfies it.
type Submitter interface {
	Submit(msg bus.GatewayMessage) (string, error)
}

// decodeParams unmarshals req.Params into v. Missing params leave v zero.
func decodeParams(req *protocol.RequestFrame, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

func badParams(client *gateway.Client, req *protocol.RequestFrame, err error) {
	client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
}

// errorCode maps gateway and plugin errors to protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, bus.ErrQueueFull):
		return protocol.ErrQueueFull
	case errors.Is(err, bus.ErrQueueClosed):
		return protocol.ErrUnavailable
	case errors.Is(err, bus.ErrDuplicate):
		return protocol.ErrRejected
	case errors.Is(err, gateway.ErrUnknownClient):
		return protocol.ErrNotFound
	}
	switch channels.KindOf(err) {
	case channels.KindNotAvailable:
		return protocol.ErrNotFound
	case channels.KindConfiguration, channels.KindMessage:
		return protocol.ErrInvalidRequest
	case channels.KindDelivery, channels.KindNetwork:
		return protocol.ErrUnavailable
	}
	return protocol.ErrInternal
}

func sendError(client *gateway.Client, req *protocol.RequestFrame, err error) {
	client.SendResponse(protocol.NewErrorResponse(req.ID, errorCode(err), err.Error()))
}
