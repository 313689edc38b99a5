package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/store"
	"github.com/zerohunger/zhchat/internal/transcript"
	"go.uber.org/zap"
)

// ErrNoConversation is returned when no conversation is open.
var ErrNoConversation = errors.New("no open conversation")

// Dialer creates the transport for a conversation id.
type Dialer func(conversation string) (Transport, error)

// Index records conversation activity. *store.DB satisfies it.
type Index interface {
	RecordOpened(ctx context.Context, id, peer, local string, at time.Time) error
	RecordActivity(ctx context.Context, id string, a store.Activity) error
	MarkRead(ctx context.Context, id string, at time.Time) error
}

// OpenRequest names the peer and optional content to send on open.
type OpenRequest struct {
	Peer    string
	Message string
	Post    *transcript.SharedPost
}

// Lifecycle is the payload of conversation opened/closed bus events.
type Lifecycle struct {
	Conversation string
	Peer         string
}

// Manager keeps at most one conversation open. Opening another peer closes
// the current view first.
type Manager struct {
	local  string
	cfg    transcript.Config
	dial   Dialer
	index  Index
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	active *View
}

// NewManager creates a manager for the local user. index may be nil.
func NewManager(local string, cfg transcript.Config, dial Dialer, index Index, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		local:  local,
		cfg:    cfg,
		dial:   dial,
		index:  index,
		bus:    b,
		logger: logger,
	}
}

// Local returns the local username.
func (m *Manager) Local() string { return m.local }

// Open starts the conversation with req.Peer, or reuses it when already
// open. Pending content is sent once the connection is up.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*View, error) {
	if err := ValidatePeer(req.Peer, m.local); err != nil {
		return nil, err
	}
	if req.Post != nil && req.Message == "" {
		return nil, ErrPostWithoutMessage
	}
	pending := Pending{Post: req.Post, Message: req.Message}
	id := ID(m.local, req.Peer)

	m.mu.Lock()
	defer m.mu.Unlock()

	if v := m.active; v != nil && v.ID() == id {
		if pending.empty() {
			return v, nil
		}
		if err := v.Deliver(ctx, pending); err != nil {
			return nil, fmt.Errorf("deliver to %s: %w", id, err)
		}
		return v, nil
	}

	t, err := m.dial(id)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", id, err)
	}
	m.closeActiveLocked()

	v := NewView(m.local, req.Peer, m.recording(id, t), m.cfg, pending, m.bus, m.logger)
	v.onChange = m.activityRecorder(id)
	v.Start(context.Background())
	m.active = v

	if m.index != nil {
		if err := m.index.RecordOpened(ctx, id, req.Peer, m.local, v.OpenedAt()); err != nil {
			m.logger.Warn("record opened", zap.Error(err), zap.String("conversation", id))
		}
	}
	m.publish(bus.KindConversationOpened, id, req.Peer)
	m.logger.Info("conversation opened", zap.String("conversation", id), zap.String("peer", req.Peer))
	return v, nil
}

// Active returns the open conversation.
func (m *Manager) Active() (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNoConversation
	}
	return m.active, nil
}

// Close closes the open conversation.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoConversation
	}
	m.closeActiveLocked()
	return nil
}

// Shutdown closes whatever is open. It is safe to call with nothing open.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeActiveLocked()
}

func (m *Manager) closeActiveLocked() {
	v := m.active
	if v == nil {
		return
	}
	m.active = nil
	v.Close()
	m.publish(bus.KindConversationClosed, v.ID(), v.Peer())
}

func (m *Manager) publish(kind, id, peer string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   Lifecycle{Conversation: id, Peer: peer},
	})
}

// activityRecorder stores the newest message each time the head changes.
func (m *Manager) activityRecorder(id string) func(transcript.Snapshot) {
	if m.index == nil {
		return nil
	}
	var head string
	return func(snap transcript.Snapshot) {
		if len(snap.Messages) == 0 || snap.Messages[0].ID == head {
			return
		}
		newest := snap.Messages[0]
		head = newest.ID
		a := store.Activity{
			MessageID: newest.ID,
			At:        newest.Timestamp.UnixMilli(),
			Preview:   preview(newest),
			Count:     len(snap.Messages),
		}
		if err := m.index.RecordActivity(context.Background(), id, a); err != nil {
			m.logger.Warn("record activity", zap.Error(err), zap.String("conversation", id))
		}
	}
}

func preview(msg transcript.Message) string {
	body := msg.Content()
	if body.Kind == transcript.PostBody && body.Post != nil {
		return "[post] " + body.Post.Title
	}
	return body.Text
}

func (m *Manager) recording(id string, t Transport) Transport {
	if m.index == nil {
		return t
	}
	return &recordingTransport{Transport: t, id: id, index: m.index, logger: m.logger}
}

// recordingTransport moves the stored read marker whenever read_messages
// goes out.
type recordingTransport struct {
	Transport
	id     string
	index  Index
	logger *zap.Logger
}

func (r *recordingTransport) MarkRead() error {
	if err := r.Transport.MarkRead(); err != nil {
		return err
	}
	if err := r.index.MarkRead(context.Background(), r.id, time.Now()); err != nil {
		r.logger.Warn("record read marker", zap.Error(err), zap.String("conversation", r.id))
	}
	return nil
}
