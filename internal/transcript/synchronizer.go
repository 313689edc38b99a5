package transcript

import (
	"errors"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/zerohunger/zhchat/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrTransportUnavailable is returned when no connection is open.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrClosed is returned by operations on a torn-down synchronizer.
	ErrClosed = errors.New("synchronizer closed")
	// ErrBodyTooLong is returned by Compose when the body exceeds MaxBodyLength.
	ErrBodyTooLong = errors.New("message body too long")
)

const (
	DefaultPageSize      = 10
	DefaultMaxBodyLength = 250
)

// Config tunes paging. Zero values take the defaults.
type Config struct {
	PageSize      int
	InitialWindow int
	MaxBodyLength int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = c.PageSize
	}
	if c.MaxBodyLength <= 0 {
		c.MaxBodyLength = DefaultMaxBodyLength
	}
	return c
}

// Snapshot is the read-only projection handed to the UI.
type Snapshot struct {
	Conversation string
	LocalUser    string
	State        State
	Connected    bool
	Cursor       Cursor
	Messages     []Message
}

// Synchronizer keeps one conversation's transcript newest-first and
// deduplicated while merging initial history, live messages and older pages.
//
// It is not safe for concurrent use. One goroutine owns it and feeds it
// events and UI actions in arrival order.
type Synchronizer struct {
	cfg          Config
	conversation string
	local        string
	out          Outbound
	logger       *zap.Logger

	state     State
	connected bool
	exhausted bool
	closed    bool
	cursor    Cursor
	messages  []Message
	seen      map[string]struct{}

	// handshakeLive counts the messages at the head of the transcript that
	// arrived live while waiting for the initial history.
	handshakeLive int

	observer func(Snapshot)
}

// New creates a synchronizer in the Idle state for the conversation between
// local and a peer.
func New(conversation, local string, out Outbound, cfg Config, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		cfg:          cfg.withDefaults(),
		conversation: conversation,
		local:        local,
		out:          out,
		logger:       logger.With(zap.String("conversation", conversation)),
		state:        Idle,
		seen:         make(map[string]struct{}),
	}
}

// OnChange registers fn to receive a snapshot after every state or
// transcript mutation. It replaces any previous observer.
func (s *Synchronizer) OnChange(fn func(Snapshot)) {
	s.observer = fn
}

// State returns the current sync state.
func (s *Synchronizer) State() State {
	return s.state
}

// Connected reports whether the transport is open.
func (s *Synchronizer) Connected() bool {
	return s.connected
}

// Len returns the number of messages in the transcript.
func (s *Synchronizer) Len() int {
	return len(s.messages)
}

// Snapshot copies the current projection.
func (s *Synchronizer) Snapshot() Snapshot {
	return Snapshot{
		Conversation: s.conversation,
		LocalUser:    s.local,
		State:        s.state,
		Connected:    s.connected,
		Cursor:       s.cursor,
		Messages:     slices.Clone(s.messages),
	}
}

// Handle applies one inbound transport event.
func (s *Synchronizer) Handle(evt Event) {
	if s.closed {
		return
	}
	metrics.EventsTotal.WithLabelValues(EventName(evt)).Inc()

	changed := false
	switch e := evt.(type) {
	case TransportReady:
		changed = s.onReady()
	case TransportLost:
		changed = s.onLost(e)
	case InitialHistory:
		changed = s.onInitialHistory(e.Messages)
	case LiveMessage:
		changed = s.onLive(e.Message)
	case HistoryPage:
		changed = s.onPage(e.Messages)
	case HistoryExhausted:
		changed = s.onExhausted()
	case UnknownEvent:
		s.logger.Warn("unknown event type", zap.String("type", e.Type))
	default:
		s.logger.Warn("unhandled event", zap.String("event", EventName(evt)))
	}

	if changed {
		s.notify()
	}
}

// ReachOldest is called when the UI has scrolled to the oldest loaded
// message. It requests the next page only from Ready; it returns whether a
// request went out.
func (s *Synchronizer) ReachOldest() bool {
	if s.closed || s.state != Ready || s.exhausted || s.cursor.Exhausted() {
		return false
	}
	if err := s.out.RequestPage(s.cursor.Start, s.cursor.End); err != nil {
		s.logger.Warn("page request failed", zap.Error(err),
			zap.Int("start", s.cursor.Start), zap.Int("end", s.cursor.End))
		return false
	}
	metrics.PagesRequested.Inc()
	s.transition(LoadingMore)
	s.notify()
	return true
}

// Compose sends body as the local participant. The transcript only changes
// when the server echoes the message back.
func (s *Synchronizer) Compose(body string) error {
	if s.closed {
		return ErrClosed
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if utf16Len(body) > s.cfg.MaxBodyLength {
		return ErrBodyTooLong
	}
	if !s.connected {
		return ErrTransportUnavailable
	}
	return s.out.Send(body, s.local)
}

// Close tears the synchronizer down. Later events, including page responses
// already in flight, are dropped without touching state.
func (s *Synchronizer) Close() {
	s.closed = true
	s.observer = nil
}

func (s *Synchronizer) onReady() bool {
	s.connected = true
	if s.state == AwaitingInitialHistory {
		return true
	}
	s.handshakeLive = 0
	s.transition(AwaitingInitialHistory)
	return true
}

func (s *Synchronizer) onLost(e TransportLost) bool {
	if !s.connected {
		return false
	}
	s.connected = false
	s.logger.Info("transport lost", zap.Error(e.Err), zap.String("state", string(s.state)))
	return true
}

func (s *Synchronizer) onInitialHistory(msgs []Message) bool {
	if s.state != AwaitingInitialHistory {
		s.logger.Debug("initial history outside handshake ignored",
			zap.String("state", string(s.state)), zap.Int("messages", len(msgs)))
		return false
	}

	switch {
	case len(s.messages) == 0:
		s.messages = s.appendUnseen(s.messages, msgs)
	case s.missedGap(msgs):
		s.logger.Info("initial history shares no message with the transcript, replacing it",
			zap.Int("known", len(s.messages)), zap.Int("messages", len(msgs)))
		s.replaceHistory(msgs)
	default:
		s.mergeHead(msgs)
	}
	s.handshakeLive = 0

	if s.cursor == (Cursor{}) {
		s.cursor = s.initialCursor()
	}

	switch {
	case len(s.messages) == 0:
		s.transition(Empty)
	case s.exhausted:
		s.transition(Exhausted)
	default:
		s.transition(Ready)
	}
	return true
}

func (s *Synchronizer) onLive(m Message) bool {
	if s.has(m.ID) {
		metrics.DuplicatesDropped.Inc()
		s.logger.Debug("duplicate live message dropped", zap.String("id", m.ID))
		return false
	}
	s.remember(m.ID)
	s.messages = slices.Insert(s.messages, 0, m)
	if s.state == AwaitingInitialHistory {
		s.handshakeLive++
	}
	if s.state == Empty {
		s.transition(Ready)
	}
	if err := s.out.MarkRead(); err != nil {
		s.logger.Warn("mark read failed", zap.Error(err))
	}
	return true
}

func (s *Synchronizer) onPage(msgs []Message) bool {
	if s.state != LoadingMore {
		metrics.StalePages.Inc()
		s.logger.Debug("stale page response ignored",
			zap.String("state", string(s.state)), zap.Int("messages", len(msgs)))
		return false
	}

	s.messages = s.appendUnseen(s.messages, msgs)

	// An empty or short page means the server ran out of history.
	if len(msgs) < s.cfg.PageSize {
		s.exhaust()
		return true
	}
	s.cursor = s.cursor.advance(s.cfg.PageSize)
	s.transition(Ready)
	return true
}

func (s *Synchronizer) onExhausted() bool {
	if s.state != Ready && s.state != LoadingMore {
		return false
	}
	s.exhaust()
	return true
}

func (s *Synchronizer) initialCursor() Cursor {
	return Cursor{Start: s.cfg.InitialWindow, End: s.cfg.InitialWindow + s.cfg.PageSize}
}

func (s *Synchronizer) exhaust() {
	s.exhausted = true
	s.cursor.End = 0
	s.transition(Exhausted)
}

// transition moves to the given state if validTransitions allows it.
func (s *Synchronizer) transition(to State) {
	if s.state == to {
		return
	}
	if err := checkTransition(s.state, to); err != nil {
		s.logger.Error("rejected transition", zap.Error(err))
		return
	}
	s.logger.Debug("state changed", zap.String("from", string(s.state)), zap.String("to", string(to)))
	s.state = to
}

func (s *Synchronizer) notify() {
	metrics.TranscriptLength.Set(float64(len(s.messages)))
	if s.observer != nil {
		s.observer(s.Snapshot())
	}
}

func (s *Synchronizer) has(id string) bool {
	_, ok := s.seen[id]
	return ok
}

func (s *Synchronizer) remember(id string) {
	s.seen[id] = struct{}{}
}

// utf16Len counts UTF-16 code units, the unit the chat server limits bodies in.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
