package protocol

// Event names pushed from server to client.
const (
	EventMessageReceived  = "message.received"
	EventMessageRejected  = "message.rejected"
	EventMessageDelivered = "message.delivered"

	EventThreadCreated = "thread.created"
	EventThreadRemoved = "thread.removed"

	EventPlatformConnected    = "platform.connected"
	EventPlatformDisconnected = "platform.disconnected"
	EventPlatformError        = "platform.error"

	// Internal to the gateway process, never forwarded to clients.
	EventConfigReloaded = "config.reloaded"
)

// SubscribeAll subscribes to every platform's events.
const SubscribeAll = "*"

// IsInternalEvent reports events that stay inside the process.
func IsInternalEvent(name string) bool {
	return name == EventConfigReloaded
}
