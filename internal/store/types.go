package store

// Conversation is one row of the local conversation index. Times are Unix
// milliseconds; zero means never.
type Conversation struct {
	ID                 string
	Peer               string
	LocalUser          string
	OpenedAt           int64
	LastReadAt         int64
	LastMessageID      string
	LastMessageAt      int64
	LastMessagePreview string
	MessageCount       int
}

// Unread reports whether a message arrived after the last read marker.
func (c *Conversation) Unread() bool {
	return c.LastMessageAt > c.LastReadAt
}

// Activity is the newest transcript entry seen for a conversation.
type Activity struct {
	MessageID string
	At        int64
	Preview   string
	Count     int
}
