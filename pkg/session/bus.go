package session

import "anchor/internal/message"

// MessageBus is the transport collaborator a Client is driven by. It is
// intentionally out of this module's scope to implement - network I/O
// submission belongs to the host - so Client depends only on this narrow
// interface.
//
// A bus implementation is expected to call Client.OnMessageReceived for
// every inbound message addressed to (or broadcast toward) the client,
// exactly once, and to eventually settle its own reference by whatever
// mechanism Unref exposes. Client always calls Unref itself once it is done
// reading a delivered message.
type MessageBus interface {
	// Init prepares the bus for use.
	Init() error
	// Deinit releases any resources held by the bus.
	Deinit() error
	// Tick advances the bus's own internal timers, called once per host tick
	// alongside Client.Tick.
	Tick()
	// GetMessage obtains a buffer from the bus's own pool. Client does not
	// use this for its outbound sends (those come from its private
	// MessagePool budget) - it exists for collaborators that share the bus's
	// pool for inbound buffering.
	GetMessage() (*message.Message, error)
	// Unref releases a reference to a message obtained via GetMessage or
	// delivered to OnMessageReceived.
	Unref(m *message.Message)
	// SendMessageToReplica transmits m to the replica at the given index.
	SendMessageToReplica(replica uint8, m *message.Message) error
}
