package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zerohunger/zhchat/internal/transcript"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, evt transcript.Event)
	}{
		{
			name:  "echo",
			frame: `{"type":"chat_message_echo","message":{"id":17,"content":"hi","from_user":{"username":"bob"},"to_user":{"username":"alice"},"timestamp":"2024-03-01T12:00:00Z","read":false}}`,
			check: func(t *testing.T, evt transcript.Event) {
				live, ok := evt.(transcript.LiveMessage)
				if !ok {
					t.Fatalf("event = %T, want LiveMessage", evt)
				}
				m := live.Message
				if m.ID != "17" || m.Body != "hi" || m.Sender != "bob" || m.Recipient != "alice" {
					t.Errorf("message = %+v", m)
				}
				if !m.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
					t.Errorf("timestamp = %v", m.Timestamp)
				}
			},
		},
		{
			name:  "initial history",
			frame: `{"type":"last_30_messages","messages":[{"id":"b","content":"2"},{"id":"a","content":"1"}]}`,
			check: func(t *testing.T, evt transcript.Event) {
				h, ok := evt.(transcript.InitialHistory)
				if !ok {
					t.Fatalf("event = %T, want InitialHistory", evt)
				}
				if len(h.Messages) != 2 || h.Messages[0].ID != "b" {
					t.Errorf("messages = %+v", h.Messages)
				}
			},
		},
		{
			name:  "empty initial history",
			frame: `{"type":"last_30_messages","messages":[]}`,
			check: func(t *testing.T, evt transcript.Event) {
				if h, ok := evt.(transcript.InitialHistory); !ok || len(h.Messages) != 0 {
					t.Fatalf("event = %#v", evt)
				}
			},
		},
		{
			name:  "page",
			frame: `{"type":"render_x_to_y_messages","messages":[{"id":3,"content":"x"}]}`,
			check: func(t *testing.T, evt transcript.Event) {
				p, ok := evt.(transcript.HistoryPage)
				if !ok || len(p.Messages) != 1 || p.Messages[0].ID != "3" {
					t.Fatalf("event = %#v", evt)
				}
			},
		},
		{
			name:  "limit reached",
			frame: `{"type":"limit_reached"}`,
			check: func(t *testing.T, evt transcript.Event) {
				if _, ok := evt.(transcript.HistoryExhausted); !ok {
					t.Fatalf("event = %T, want HistoryExhausted", evt)
				}
			},
		},
		{
			name:  "unknown",
			frame: `{"type":"typing","user":"bob"}`,
			check: func(t *testing.T, evt transcript.Event) {
				u, ok := evt.(transcript.UnknownEvent)
				if !ok || u.Type != "typing" {
					t.Fatalf("event = %#v", evt)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, evt)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Error("Decode() accepted truncated json")
	}
	if _, err := Decode([]byte(`{"type":"chat_message_echo"}`)); !errors.Is(err, ErrMissingMessage) {
		t.Errorf("Decode() error = %v, want ErrMissingMessage", err)
	}
	if _, err := Decode([]byte(`{"type":"last_30_messages","messages":[{"id":true}]}`)); err == nil {
		t.Error("Decode() accepted boolean id")
	}
}

func TestEncodeOutbound(t *testing.T) {
	chat, _ := EncodeChatMessage("hello", "alice")
	read, _ := EncodeReadMessages()
	render, _ := EncodeRenderRange(30, 40, "alice")

	tests := []struct {
		frame []byte
		want  map[string]string
	}{
		{chat, map[string]string{"type": "chat_message", "message": "hello", "name": "alice"}},
		{read, map[string]string{"type": "read_messages"}},
		{render, map[string]string{"type": "render__30_40", "name": "alice"}},
	}
	for _, tt := range tests {
		var got map[string]string
		if err := json.Unmarshal(tt.frame, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("frame %s has keys %v", tt.frame, got)
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("frame %s: %s = %q, want %q", tt.frame, k, got[k], v)
			}
		}
	}
}

func TestParseRenderType(t *testing.T) {
	tests := []struct {
		typ        string
		start, end int
		ok         bool
	}{
		{"render__30_40", 30, 40, true},
		{"render__0_10", 0, 10, true},
		{"render__40_30", 0, 0, false},
		{"render__x_10", 0, 0, false},
		{"render__10", 0, 0, false},
		{"chat_message", 0, 0, false},
	}
	for _, tt := range tests {
		start, end, ok := ParseRenderType(tt.typ)
		if ok != tt.ok || start != tt.start || end != tt.end {
			t.Errorf("ParseRenderType(%q) = %d, %d, %v", tt.typ, start, end, ok)
		}
	}
	if got := RenderType(10, 20); got != "render__10_20" {
		t.Errorf("RenderType() = %q", got)
	}
}

func TestServerFramesDecode(t *testing.T) {
	m := transcript.Message{ID: "m1", Body: "hi", Sender: "bob", Recipient: "alice",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	echo, err := EncodeEcho(m)
	if err != nil {
		t.Fatal(err)
	}
	evt, err := Decode(echo)
	if err != nil {
		t.Fatal(err)
	}
	got := evt.(transcript.LiveMessage).Message
	if got.ID != m.ID || got.Body != m.Body || got.Sender != m.Sender || got.Recipient != m.Recipient ||
		!got.Timestamp.Equal(m.Timestamp) {
		t.Errorf("echo decoded to %+v", got)
	}

	empty, _ := EncodeHistory(TypeRenderMessages, nil)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(empty, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["messages"]; !ok {
		t.Errorf("empty page frame %s lacks messages key", empty)
	}

	limit, _ := EncodeLimitReached()
	if typ, _ := FrameType(limit); typ != TypeLimitReached {
		t.Errorf("FrameType() = %q", typ)
	}
}
