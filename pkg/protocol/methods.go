package protocol

// RPC method names. The set is closed: anything else is answered with
// METHOD_NOT_FOUND.
const (
	// Gateway
	MethodPing        = "gateway.ping"
	MethodStatus      = "gateway.status"
	MethodSubscribe   = "gateway.subscribe"
	MethodUnsubscribe = "gateway.unsubscribe"

	// Replay
	MethodEventsSince = "events.since"

	// Messages
	MethodMessageSubmit  = "message.submit"
	MethodMessageReply   = "message.reply"
	MethodMessagePrepare = "message.prepare"

	// Thread mappings
	MethodThreadsList   = "threads.list"
	MethodThreadsAdd    = "threads.add"
	MethodThreadsRemove = "threads.remove"

	// Platforms
	MethodPlatformsList  = "platforms.list"
	MethodPlatformsStart = "platforms.start"
	MethodPlatformsStop  = "platforms.stop"
)

// Methods lists every method in documentation order.
var Methods = []string{
	MethodPing,
	MethodStatus,
	MethodSubscribe,
	MethodUnsubscribe,
	MethodEventsSince,
	MethodMessageSubmit,
	MethodMessageReply,
	MethodMessagePrepare,
	MethodThreadsList,
	MethodThreadsAdd,
	MethodThreadsRemove,
	MethodPlatformsList,
	MethodPlatformsStart,
	MethodPlatformsStop,
}

// IsKnownMethod reports whether name is part of the method surface.
func IsKnownMethod(name string) bool {
	for _, m := range Methods {
		if m == name {
			return true
		}
	}
	return false
}
