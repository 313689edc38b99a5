package api

import (
	"time"

	"github.com/zerohunger/zhchat/internal/status"
	"github.com/zerohunger/zhchat/internal/store"
	"github.com/zerohunger/zhchat/internal/transcript"
)

// Payloads travel as google.protobuf.Struct; these are their Go shapes.

type OpenRequest struct {
	Peer    string                 `json:"peer"`
	Message string                 `json:"message,omitempty"`
	Post    *transcript.SharedPost `json:"post,omitempty"`
}

type SendRequest struct {
	Body string `json:"body"`
}

type RecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

type Cursor struct {
	Start     int  `json:"start"`
	End       int  `json:"end"`
	Exhausted bool `json:"exhausted"`
}

type Message struct {
	ID              string                 `json:"id"`
	Body            string                 `json:"body"`
	Sender          string                 `json:"sender"`
	Recipient       string                 `json:"recipient"`
	TimestampUnixMs int64                  `json:"timestamp_unix_ms"`
	Read            bool                   `json:"read"`
	Outgoing        bool                   `json:"outgoing"`
	Post            *transcript.SharedPost `json:"post,omitempty"`
}

type Snapshot struct {
	Conversation string    `json:"conversation"`
	Peer         string    `json:"peer"`
	LocalUser    string    `json:"local_user"`
	State        string    `json:"state"`
	Connected    bool      `json:"connected"`
	Connection   string    `json:"connection"`
	Cursor       Cursor    `json:"cursor"`
	Messages     []Message `json:"messages"`
}

type LoadOlderResponse struct {
	Requested bool     `json:"requested"`
	Snapshot  Snapshot `json:"snapshot"`
}

type WatchEvent struct {
	EventID          string    `json:"event_id"`
	Kind             string    `json:"kind"`
	OccurredAtUnixMs int64     `json:"occurred_at_unix_ms"`
	Conversation     string    `json:"conversation"`
	Connection       string    `json:"connection,omitempty"`
	Snapshot         *Snapshot `json:"snapshot,omitempty"`
}

type Conversation struct {
	ID                 string `json:"id"`
	Peer               string `json:"peer"`
	OpenedAtUnixMs     int64  `json:"opened_at_unix_ms"`
	LastReadAtUnixMs   int64  `json:"last_read_at_unix_ms"`
	LastMessageID      string `json:"last_message_id"`
	LastMessageAtMs    int64  `json:"last_message_at_unix_ms"`
	LastMessagePreview string `json:"last_message_preview"`
	MessageCount       int    `json:"message_count"`
	Unread             bool   `json:"unread"`
	Active             bool   `json:"active"`
}

type RecentResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type StatusResponse struct {
	Session      string `json:"session"`
	DaemonID     string `json:"daemon_id"`
	UptimeMs     int64  `json:"uptime_ms"`
	LocalUser    string `json:"local_user"`
	ServerURL    string `json:"server_url"`
	Conversation string `json:"conversation,omitempty"`
	Connection   string `json:"connection,omitempty"`
	SyncState    string `json:"sync_state,omitempty"`
	Messages     int    `json:"messages"`
}

// SnapshotFrom projects a synchronizer snapshot for the wire.
func SnapshotFrom(s transcript.Snapshot, peer string, conn status.State) Snapshot {
	out := Snapshot{
		Conversation: s.Conversation,
		Peer:         peer,
		LocalUser:    s.LocalUser,
		State:        string(s.State),
		Connected:    s.Connected,
		Connection:   string(conn),
		Cursor: Cursor{
			Start:     s.Cursor.Start,
			End:       s.Cursor.End,
			Exhausted: s.State == transcript.Exhausted,
		},
		Messages: make([]Message, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		msg := Message{
			ID:        m.ID,
			Body:      m.Body,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Read:      m.Read,
			Outgoing:  m.Direction(s.LocalUser) == transcript.Outgoing,
		}
		if !m.Timestamp.IsZero() {
			msg.TimestampUnixMs = m.Timestamp.UnixMilli()
		}
		if body := m.Content(); body.Kind == transcript.PostBody {
			msg.Post = body.Post
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

// Time returns the message timestamp, or the zero time when unknown.
func (m Message) Time() time.Time {
	if m.TimestampUnixMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.TimestampUnixMs)
}

func conversationFrom(c store.Conversation, active string) Conversation {
	return Conversation{
		ID:                 c.ID,
		Peer:               c.Peer,
		OpenedAtUnixMs:     c.OpenedAt,
		LastReadAtUnixMs:   c.LastReadAt,
		LastMessageID:      c.LastMessageID,
		LastMessageAtMs:    c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
		MessageCount:       c.MessageCount,
		Unread:             c.Unread(),
		Active:             c.ID == active,
	}
}
