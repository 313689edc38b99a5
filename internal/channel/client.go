// Package channel is the conversation transport: a WebSocket to the chat
// server that delivers decoded events in arrival order and accepts
// fire-and-forget requests.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/zerohunger/zhchat/internal/auth"
	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/metrics"
	"github.com/zerohunger/zhchat/internal/status"
	"github.com/zerohunger/zhchat/internal/transcript"
	"github.com/zerohunger/zhchat/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned when the outbound queue cannot take another frame.
var ErrQueueFull = errors.New("outbound queue full")

const (
	defaultReconnectInterval = 2 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReadLimit         = 1 << 20
	eventBuffer              = 64
	outboundBuffer           = 32
)

// Config holds transport settings. Zero values take the defaults.
type Config struct {
	ServerURL         string
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
}

// Client owns the socket for one conversation. Run drives it; the
// transcript.Outbound methods may be called from any goroutine.
type Client struct {
	cfg          Config
	conversation string
	creds        auth.Credentials
	dialURL      string
	redactedURL  string
	machine      *status.Machine
	limiter      *rate.Limiter
	logger       *zap.Logger

	events chan transcript.Event

	mu  sync.Mutex
	out chan []byte
}

// New prepares a client for conversation. It does not dial until Run.
func New(cfg Config, conversation string, creds auth.Credentials, b *bus.Bus, logger *zap.Logger) (*Client, error) {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dialURL, redacted, err := ConversationURL(cfg.ServerURL, conversation, creds.Token)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:          cfg,
		conversation: conversation,
		creds:        creds,
		dialURL:      dialURL,
		redactedURL:  redacted,
		machine:      status.NewMachine(conversation, b),
		limiter:      rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		logger:       logger.With(zap.String("conversation", conversation)),
		events:       make(chan transcript.Event, eventBuffer),
	}, nil
}

// ConversationURL builds <server>/chats/<conversation>/?token=<token> and a
// copy without the token for logging.
func ConversationURL(serverURL, conversation, token string) (string, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chats/" + url.PathEscape(conversation) + "/"
	u.RawQuery = ""
	redacted := u.String()

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), redacted, nil
}

// Events delivers inbound events in arrival order. It is closed when Run returns.
func (c *Client) Events() <-chan transcript.Event {
	return c.events
}

// State returns the connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Run connects and keeps reconnecting until ctx is done.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer c.finish()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if attempt > 0 {
			metrics.Reconnects.Inc()
		}
		_ = c.machine.Transition(status.Connecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt))
			_ = c.machine.Transition(status.Reconnecting)
			continue
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost", zap.Error(err))
		_ = c.machine.Transition(status.Reconnecting)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, c.dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.redactedURL, err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)
	return conn, nil
}

// serve runs one connection until it fails or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan []byte, outboundBuffer)
	c.setOutbound(out)
	_ = c.machine.Transition(status.Open)
	c.logger.Info("connected", zap.String("url", c.redactedURL))

	if !c.deliver(ctx, transcript.TransportReady{}) {
		c.setOutbound(nil)
		_ = conn.CloseNow()
		return ctx.Err()
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop(connCtx, conn, out)
	}()

	err := c.readLoop(connCtx, conn)
	c.setOutbound(nil)
	cancel()
	<-writeDone

	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "conversation closed")
		return ctx.Err()
	}
	_ = conn.CloseNow()
	c.deliver(ctx, transcript.TransportLost{Err: err})
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		evt, err := wire.Decode(data)
		if err != nil {
			metrics.MalformedFrames.Inc()
			c.logger.Warn("malformed frame dropped", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if !c.deliver(ctx, evt) {
			return ctx.Err()
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Warn("write failed", zap.Error(err))
				// Unblocks the read loop so the connection is torn down.
				_ = conn.CloseNow()
				return
			}
			metrics.FramesSent.WithLabelValues(frameLabel(frame)).Inc()
		}
	}
}

func (c *Client) deliver(ctx context.Context, evt transcript.Event) bool {
	select {
	case c.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) finish() {
	c.setOutbound(nil)
	if err := c.machine.Transition(status.Closing); err != nil {
		_ = c.machine.Transition(status.Closed)
		return
	}
	_ = c.machine.Transition(status.Closed)
}

func (c *Client) setOutbound(out chan []byte) {
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return transcript.ErrTransportUnavailable
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// RequestPage asks for messages [start, end) counted from the newest.
func (c *Client) RequestPage(start, end int) error {
	frame, err := wire.EncodeRenderRange(start, end, c.creds.Username)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Send posts body to the conversation.
func (c *Client) Send(body, sender string) error {
	frame, err := wire.EncodeChatMessage(body, sender)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// MarkRead tells the server the local participant has seen the conversation.
func (c *Client) MarkRead() error {
	frame, err := wire.EncodeReadMessages()
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func frameLabel(frame []byte) string {
	typ, err := wire.FrameType(frame)
	if err != nil {
		return "invalid"
	}
	if _, _, ok := wire.ParseRenderType(typ); ok {
		return "render"
	}
	return typ
}
