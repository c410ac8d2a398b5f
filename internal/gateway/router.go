package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// MethodHandler handles one RPC request and sends exactly one response.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches RequestFrames by method name.
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRouter creates an empty router.
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]MethodHandler)}
}

// Register binds a handler to a method name. Registering a name outside
// the protocol's method set is a programming error.
func (r *MethodRouter) Register(method string, h MethodHandler) {
	if !protocol.IsKnownMethod(method) {
		panic(fmt.Sprintf("gateway: register unknown method %q", method))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Handle runs the handler for req.Method. Unknown or unregistered methods
// get a METHOD_NOT_FOUND response; a panicking handler gets INTERNAL.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		slog.Debug("unknown method", "client", client.ID(), "method", req.Method)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrMethodNotFound, "unknown method: "+req.Method))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("method handler panic", "method", req.Method, "panic", rec)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "internal error"))
		}
	}()
	h(ctx, client, req)
}

// Methods returns the registered method names, sorted.
func (r *MethodRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
