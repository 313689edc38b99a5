package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zerohunger/zhchat/internal/transcript"
)

// ErrMissingMessage is returned for an echo envelope without a message.
var ErrMissingMessage = errors.New("envelope has no message")

// Decode turns one inbound frame into a synchronizer event. Envelope types
// the client does not know become transcript.UnknownEvent rather than errors.
func Decode(data []byte) (transcript.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessageEcho:
		if env.Message == nil {
			return nil, ErrMissingMessage
		}
		return transcript.LiveMessage{Message: env.Message.ToTranscript()}, nil
	case TypeLastMessages:
		return transcript.InitialHistory{Messages: toTranscript(env.Messages)}, nil
	case TypeRenderMessages:
		return transcript.HistoryPage{Messages: toTranscript(env.Messages)}, nil
	case TypeLimitReached:
		return transcript.HistoryExhausted{}, nil
	default:
		return transcript.UnknownEvent{Type: env.Type}, nil
	}
}

func toTranscript(msgs []Message) []transcript.Message {
	out := make([]transcript.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToTranscript())
	}
	return out
}

type chatMessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

type namedFrame struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// EncodeChatMessage builds the frame that posts body as sender.
func EncodeChatMessage(body, sender string) ([]byte, error) {
	return json.Marshal(chatMessageFrame{Type: TypeChatMessage, Message: body, Name: sender})
}

// EncodeReadMessages builds the frame that marks the conversation as read.
func EncodeReadMessages() ([]byte, error) {
	return json.Marshal(namedFrame{Type: TypeReadMessages})
}

// EncodeRenderRange builds the frame that requests messages [start, end)
// counted from the newest.
func EncodeRenderRange(start, end int, sender string) ([]byte, error) {
	return json.Marshal(namedFrame{Type: RenderType(start, end), Name: sender})
}

// RenderType formats the page request type, e.g. "render__30_40".
func RenderType(start, end int) string {
	return fmt.Sprintf("%s%d_%d", renderPrefix, start, end)
}

// ParseRenderType is the inverse of RenderType.
func ParseRenderType(typ string) (start, end int, ok bool) {
	rest, found := strings.CutPrefix(typ, renderPrefix)
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.Atoi(b)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// FrameType extracts the type discriminator of an outbound or inbound frame.
func FrameType(data []byte) (string, error) {
	var f namedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("decode frame type: %w", err)
	}
	return f.Type, nil
}

// Inbound frames sent by the server side. Used by the test chat server.

// EncodeEcho builds a chat_message_echo frame.
func EncodeEcho(m transcript.Message) ([]byte, error) {
	wm := FromTranscript(m)
	return json.Marshal(Envelope{Type: TypeChatMessageEcho, Message: &wm})
}

// EncodeHistory builds a last_30_messages or render_x_to_y_messages frame.
func EncodeHistory(typ string, msgs []transcript.Message) ([]byte, error) {
	wms := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		wms = append(wms, FromTranscript(m))
	}
	// Messages is omitempty; an empty page still needs the key.
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Messages []Message `json:"messages"`
	}{Type: typ, Messages: wms})
}

// EncodeLimitReached builds a limit_reached frame.
func EncodeLimitReached() ([]byte, error) {
	return json.Marshal(namedFrame{Type: TypeLimitReached})
}
