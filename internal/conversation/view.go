// Package conversation runs one open chat: it owns the transcript
// synchronizer and its transport, and serializes transport events and user
// actions through a single goroutine.
package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/status"
	"github.com/zerohunger/zhchat/internal/transcript"
	"go.uber.org/zap"
)

// ErrViewClosed is returned by actions on a view that has been closed.
var ErrViewClosed = errors.New("conversation view closed")

// Transport is the channel a view reads events from and writes requests to.
type Transport interface {
	transcript.Outbound
	Events() <-chan transcript.Event
	Run(ctx context.Context)
	State() status.State
}

// ErrPostWithoutMessage is returned when a shared post is offered with no
// text message to accompany it.
var ErrPostWithoutMessage = errors.New("shared post requires a message")

// Pending is content to send once the connection opens: a shared post
// first, then a text message. A post is only sent together with a message.
type Pending struct {
	Post    *transcript.SharedPost
	Message string
}

func (p Pending) empty() bool {
	return p.Post == nil && p.Message == ""
}

// View is an open conversation.
type View struct {
	id        string
	peer      string
	local     string
	transport Transport
	sync      *transcript.Synchronizer
	bus       *bus.Bus
	logger    *zap.Logger
	openedAt  time.Time

	actions  chan func()
	latest   atomic.Pointer[transcript.Snapshot]
	pending  Pending
	onChange func(transcript.Snapshot)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewView wires a synchronizer to t. Nothing runs until Start.
func NewView(local, peer string, t Transport, cfg transcript.Config, pending Pending, b *bus.Bus, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := ID(local, peer)
	v := &View{
		id:        id,
		peer:      peer,
		local:     local,
		transport: t,
		bus:       b,
		logger:    logger.With(zap.String("conversation", id)),
		openedAt:  time.Now(),
		actions:   make(chan func()),
		pending:   pending,
		done:      make(chan struct{}),
	}
	v.sync = transcript.New(id, local, t, cfg, logger)
	v.sync.OnChange(v.publish)
	snap := v.sync.Snapshot()
	v.latest.Store(&snap)
	return v
}

// ID returns the conversation id.
func (v *View) ID() string { return v.id }

// Peer returns the remote participant.
func (v *View) Peer() string { return v.peer }

// OpenedAt returns when the view was created.
func (v *View) OpenedAt() time.Time { return v.openedAt }

// ConnectionState returns the transport's connection state.
func (v *View) ConnectionState() status.State { return v.transport.State() }

// Snapshot returns the latest published snapshot. Safe from any goroutine.
func (v *View) Snapshot() transcript.Snapshot {
	return *v.latest.Load()
}

// Start runs the transport and the event loop until Close or ctx ends.
func (v *View) Start(ctx context.Context) {
	ctx, v.cancel = context.WithCancel(ctx)
	go v.transport.Run(ctx)
	go v.loop(ctx)
}

// Close stops the loop and the transport. Events still in flight are dropped.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		if v.cancel == nil {
			close(v.done)
		} else {
			v.cancel()
			<-v.done
		}
		v.sync.Close()
		v.logger.Info("conversation closed")
	})
}

// Done is closed when the event loop has exited.
func (v *View) Done() <-chan struct{} { return v.done }

// ReachOldest asks for the next page of older history. It reports whether a
// request was sent.
func (v *View) ReachOldest(ctx context.Context) (bool, error) {
	var sent bool
	err := v.do(ctx, func() { sent = v.sync.ReachOldest() })
	return sent, err
}

// Compose sends body to the peer.
func (v *View) Compose(ctx context.Context, body string) error {
	var sendErr error
	if err := v.do(ctx, func() { sendErr = v.sync.Compose(body) }); err != nil {
		return err
	}
	return sendErr
}

// Deliver queues p and sends it now if the connection is open.
func (v *View) Deliver(ctx context.Context, p Pending) error {
	return v.do(ctx, func() {
		if p.Post != nil {
			v.pending.Post = p.Post
		}
		if p.Message != "" {
			v.pending.Message = p.Message
		}
		v.flushPending()
	})
}

func (v *View) loop(ctx context.Context) {
	defer close(v.done)
	events := v.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			v.handle(evt)
		case fn := <-v.actions:
			fn()
		}
	}
}

func (v *View) handle(evt transcript.Event) {
	v.sync.Handle(evt)
	if _, ok := evt.(transcript.TransportReady); ok {
		if err := v.transport.MarkRead(); err != nil {
			v.logger.Warn("mark read on open failed", zap.Error(err))
		}
		v.flushPending()
	}
}

// flushPending sends the shared post and then the message. Anything the
// transport refuses stays queued for the next open.
func (v *View) flushPending() {
	if v.pending.Post != nil && v.pending.Message == "" {
		v.logger.Warn("dropping shared post without a message")
		v.pending.Post = nil
	}
	if v.pending.empty() || !v.sync.Connected() {
		return
	}
	if p := v.pending.Post; p != nil {
		body, err := transcript.EncodePost(p)
		if err != nil {
			v.logger.Error("encode shared post", zap.Error(err))
			v.pending.Post = nil
		} else if err := v.transport.Send(body, v.local); err != nil {
			v.logger.Warn("send shared post", zap.Error(err))
			return
		} else {
			v.pending.Post = nil
		}
	}
	if msg := v.pending.Message; msg != "" {
		err := v.sync.Compose(msg)
		if errors.Is(err, transcript.ErrTransportUnavailable) {
			return
		}
		if err != nil {
			v.logger.Warn("send pending message", zap.Error(err))
		}
		v.pending.Message = ""
	}
}

func (v *View) publish(snap transcript.Snapshot) {
	v.latest.Store(&snap)
	if v.bus != nil {
		v.bus.Publish(bus.Event{
			Kind:      bus.KindSnapshot,
			Timestamp: time.Now(),
			Payload:   snap,
		})
	}
	if v.onChange != nil {
		v.onChange(snap)
	}
}

func (v *View) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	run := func() {
		defer close(finished)
		fn()
	}
	select {
	case v.actions <- run:
	case <-v.done:
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
