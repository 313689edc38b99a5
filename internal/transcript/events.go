package transcript

// Event is an inbound notification from the channel transport.
type Event interface {
	eventName() string
}

// TransportReady is delivered every time a connection opens, including
// reconnections.
type TransportReady struct{}

// TransportLost is delivered when an open connection drops.
type TransportLost struct {
	Err error
}

// InitialHistory is the newest slice of history sent right after the
// connection opens.
type InitialHistory struct {
	Messages []Message
}

// LiveMessage is a message posted to the conversation after readiness,
// including the echo of our own sends.
type LiveMessage struct {
	Message Message
}

// HistoryPage answers a RequestPage.
type HistoryPage struct {
	Messages []Message
}

// HistoryExhausted signals there is nothing older than what was delivered.
type HistoryExhausted struct{}

// UnknownEvent carries an envelope type the synchronizer does not understand.
type UnknownEvent struct {
	Type string
}

func (TransportReady) eventName() string   { return "transport_ready" }
func (TransportLost) eventName() string    { return "transport_lost" }
func (InitialHistory) eventName() string   { return "initial_history" }
func (LiveMessage) eventName() string      { return "live_message" }
func (HistoryPage) eventName() string      { return "history_page" }
func (HistoryExhausted) eventName() string { return "history_exhausted" }
func (UnknownEvent) eventName() string     { return "unknown" }

// EventName returns a stable label for metrics and logs.
func EventName(evt Event) string {
	if evt == nil {
		return "nil"
	}
	return evt.eventName()
}

// Outbound is the request side of the channel transport. Calls are fire and
// forget: replies, if any, arrive later as events.
type Outbound interface {
	RequestPage(start, end int) error
	Send(body, sender string) error
	MarkRead() error
}
