// Package wire encodes and decodes the JSON envelopes exchanged with the
// chat server over the conversation WebSocket.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zerohunger/zhchat/internal/transcript"
)

// Envelope types, as named by the chat server.
const (
	TypeChatMessage     = "chat_message"
	TypeChatMessageEcho = "chat_message_echo"
	TypeReadMessages    = "read_messages"
	TypeLastMessages    = "last_30_messages"
	TypeRenderMessages  = "render_x_to_y_messages"
	TypeLimitReached    = "limit_reached"

	renderPrefix = "render__"
)

// Envelope is the union of every frame shape on the conversation socket.
type Envelope struct {
	Type     string    `json:"type"`
	Message  *Message  `json:"message,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// User is the participant reference embedded in a message.
type User struct {
	Username string `json:"username"`
}

// Message is a transcript entry as serialized by the server.
type Message struct {
	ID        ID     `json:"id"`
	Content   string `json:"content"`
	FromUser  User   `json:"from_user"`
	ToUser    User   `json:"to_user"`
	Timestamp string `json:"timestamp,omitempty"`
	Read      bool   `json:"read"`
}

// ID accepts both string and numeric message ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ToTranscript converts a wire message to the synchronizer's model.
func (m Message) ToTranscript() transcript.Message {
	return transcript.Message{
		ID:        string(m.ID),
		Body:      m.Content,
		Sender:    m.FromUser.Username,
		Recipient: m.ToUser.Username,
		Timestamp: parseTimestamp(m.Timestamp),
		Read:      m.Read,
	}
}

// FromTranscript is the inverse of ToTranscript.
func FromTranscript(m transcript.Message) Message {
	out := Message{
		ID:       ID(m.ID),
		Content:  m.Body,
		FromUser: User{Username: m.Sender},
		ToUser:   User{Username: m.Recipient},
		Read:     m.Read,
	}
	if !m.Timestamp.IsZero() {
		out.Timestamp = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
