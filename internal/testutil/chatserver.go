// Package testutil provides an in-process chat server that speaks the
// conversation socket protocol, for transport and end-to-end tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/zerohunger/zhchat/internal/transcript"
	"github.com/zerohunger/zhchat/internal/wire"
)

// ChatServer serves /chats/<a>__<b>/ over a newest-first history.
type ChatServer struct {
	// InitialSize is how many messages the server sends on connect.
	InitialSize int
	// Token, when set, must match the token query parameter.
	Token string

	srv *httptest.Server

	mu       sync.Mutex
	history  []transcript.Message
	conns    map[*websocket.Conn]context.CancelFunc
	received []string
	dials    int
	nextID   int
}

// NewChatServer starts a server holding history (newest first).
func NewChatServer(history []transcript.Message, initialSize int) *ChatServer {
	s := &ChatServer{
		InitialSize: initialSize,
		history:     append([]transcript.Message(nil), history...),
		conns:       make(map[*websocket.Conn]context.CancelFunc),
		nextID:      len(history) + 1,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// History builds n messages between a and b, newest first, with ids m<n>..m1
// and alternating senders.
func History(n int, a, b string) []transcript.Message {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]transcript.Message, 0, n)
	for i := n; i >= 1; i-- {
		from, to := a, b
		if i%2 == 0 {
			from, to = b, a
		}
		msgs = append(msgs, transcript.Message{
			ID:        fmt.Sprintf("m%d", i),
			Body:      fmt.Sprintf("message %d", i),
			Sender:    from,
			Recipient: to,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

// URL returns the server base URL with a trailing slash.
func (s *ChatServer) URL() string {
	return s.srv.URL + "/"
}

// Close drops every connection and stops the server.
func (s *ChatServer) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Received returns the frame types received from clients, in order.
func (s *ChatServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Dials returns how many sockets were accepted.
func (s *ChatServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// HistoryLen returns the number of stored messages.
func (s *ChatServer) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// DropConnections abruptly closes every open socket.
func (s *ChatServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, cancel := range s.conns {
		cancel()
		_ = conn.CloseNow()
		delete(s.conns, conn)
	}
}

// Push stores m as the newest message and echoes it to every client.
func (s *ChatServer) Push(m transcript.Message) {
	s.mu.Lock()
	s.history = append([]transcript.Message{m}, s.history...)
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	frame, err := wire.EncodeEcho(m)
	if err != nil {
		return
	}
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, frame)
		cancel()
	}
}

// SendRaw writes an arbitrary frame to every client.
func (s *ChatServer) SendRaw(frame []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, frame)
		cancel()
	}
}

func (s *ChatServer) handle(w http.ResponseWriter, r *http.Request) {
	conversation, ok := parseConversationPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.Token != "" && r.URL.Query().Get("token") != s.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.mu.Lock()
	s.conns[conn] = cancel
	s.dials++
	initial := s.window(0, s.InitialSize)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.CloseNow()
	}()

	frame, err := wire.EncodeHistory(wire.TypeLastMessages, initial)
	if err != nil || conn.Write(ctx, websocket.MessageText, frame) != nil {
		return
	}

	for {
		var in struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Name    string `json:"name"`
		}
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, in.Type)
		s.mu.Unlock()

		switch {
		case in.Type == wire.TypeChatMessage:
			s.Push(s.newMessage(conversation, in.Name, in.Message))
		case in.Type == wire.TypeReadMessages:
		default:
			start, end, ok := wire.ParseRenderType(in.Type)
			if !ok {
				continue
			}
			if err := s.writePage(ctx, conn, start, end); err != nil {
				return
			}
		}
	}
}

func (s *ChatServer) writePage(ctx context.Context, conn *websocket.Conn, start, end int) error {
	s.mu.Lock()
	total := len(s.history)
	page := s.window(start, end)
	s.mu.Unlock()

	var frame []byte
	var err error
	if start >= total {
		frame, err = wire.EncodeLimitReached()
	} else {
		frame, err = wire.EncodeHistory(wire.TypeRenderMessages, page)
	}
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// window returns history[start:end] clamped to bounds. Callers hold mu.
func (s *ChatServer) window(start, end int) []transcript.Message {
	if start > len(s.history) {
		start = len(s.history)
	}
	if end > len(s.history) {
		end = len(s.history)
	}
	return append([]transcript.Message(nil), s.history[start:end]...)
}

func (s *ChatServer) newMessage(conversation, sender, body string) transcript.Message {
	s.mu.Lock()
	id := fmt.Sprintf("s%d", s.nextID)
	s.nextID++
	s.mu.Unlock()

	a, b, _ := strings.Cut(conversation, "__")
	to := a
	if sender == a {
		to = b
	}
	return transcript.Message{
		ID:        id,
		Body:      body,
		Sender:    sender,
		Recipient: to,
		Timestamp: time.Now().UTC(),
	}
}

func parseConversationPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/chats/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if !strings.Contains(rest, "__") || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
