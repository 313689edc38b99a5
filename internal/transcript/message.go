package transcript

import "time"

// Direction is computed from the sender, never stored.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Message is one transcript entry as delivered by the chat server.
type Message struct {
	ID        string
	Body      string
	Sender    string
	Recipient string
	Timestamp time.Time
	Read      bool
}

// Direction reports whether the message was authored by local.
func (m Message) Direction(local string) Direction {
	if m.Sender == local {
		return Outgoing
	}
	return Incoming
}

// Content parses the raw body into text or a shared post reference.
func (m Message) Content() Body {
	return ParseBody(m.Body)
}
