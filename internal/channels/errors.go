package channels

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// ErrorKind classifies plugin failures by how far they propagate.
type ErrorKind int

const (
	// KindConfiguration: missing or invalid account settings. Fatal to StartAccount.
	KindConfiguration ErrorKind = iota + 1
	// KindMessage: malformed inbound payload. Scoped to one message.
	KindMessage
	// KindDelivery: outbound send failed. Scoped to one chunk.
	KindDelivery
	// KindNotAvailable: unknown platform or account.
	KindNotAvailable
	// KindNetwork: transient transport failure, e.g. during polling.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMessage:
		return "message"
	case KindDelivery:
		return "delivery"
	case KindNotAvailable:
		return "not_available"
	case KindNetwork:
		return "network"
	}
	return "unknown"
}

var (
	// ErrNotAvailable matches any PluginError of kind KindNotAvailable.
	ErrNotAvailable = errors.New("platform not available")

	// ErrIgnored is returned by ParseInbound for well-formed payloads that
	// carry nothing to process (bot echoes, edits, non-message updates).
	ErrIgnored = errors.New("payload ignored")
)

// PluginError is the error type returned by plugins and the registry.
type PluginError struct {
	Kind     ErrorKind
	Platform bus.Platform
	Op       string
	Err      error
}

func (e *PluginError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s %s error: %v", e.Platform, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Platform, e.Op, e.Kind, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNotAvailable) true for not-available errors.
func (e *PluginError) Is(target error) bool {
	return target == ErrNotAvailable && e.Kind == KindNotAvailable
}

// ConfigError wraps err as a configuration error.
func ConfigError(p bus.Platform, op string, err error) error {
	return &PluginError{Kind: KindConfiguration, Platform: p, Op: op, Err: err}
}

// MessageError wraps err as a malformed-message error.
func MessageError(p bus.Platform, op string, err error) error {
	return &PluginError{Kind: KindMessage, Platform: p, Op: op, Err: err}
}

// DeliveryError wraps err as a delivery error.
func DeliveryError(p bus.Platform, op string, err error) error {
	return &PluginError{Kind: KindDelivery, Platform: p, Op: op, Err: err}
}

// NetworkError wraps err as a transient network error.
func NetworkError(p bus.Platform, op string, err error) error {
	return &PluginError{Kind: KindNetwork, Platform: p, Op: op, Err: err}
}

// NotAvailableError reports an unknown platform id.
func NotAvailableError(id string) error {
	return &PluginError{
		Kind:     KindNotAvailable,
		Platform: bus.ParsePlatform(id),
		Op:       "lookup",
		Err:      fmt.Errorf("no plugin registered for %q", id),
	}
}

// KindOf returns the kind of a PluginError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pe *PluginError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
