package bus

import "time"

// Event namespaces. Subscribers filter by prefix.
const (
	NamespaceTranscript   = "transcript."
	NamespaceTransport    = "transport."
	NamespaceConversation = "conversation."
)

// Event kinds.
const (
	KindSnapshot           = "transcript.snapshot"
	KindTransportStatus    = "transport.status_changed"
	KindConversationOpened = "conversation.opened"
	KindConversationClosed = "conversation.closed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
