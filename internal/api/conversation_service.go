// Package api implements the daemon's gRPC ConversationService.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/channel"
	"github.com/zerohunger/zhchat/internal/conversation"
	"github.com/zerohunger/zhchat/internal/status"
	"github.com/zerohunger/zhchat/internal/store"
	"github.com/zerohunger/zhchat/internal/transcript"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Conversations is the conversation manager as seen by the API.
type Conversations interface {
	Open(ctx context.Context, req conversation.OpenRequest) (*conversation.View, error)
	Active() (*conversation.View, error)
	Close() error
	Local() string
}

// Index lists recorded conversations.
type Index interface {
	ListConversations(ctx context.Context, local string, limit int) ([]store.Conversation, error)
}

// ServiceInfo identifies the daemon in Status responses.
type ServiceInfo struct {
	Session   string
	ServerURL string
}

// ConversationService implements ConversationServer.
type ConversationService struct {
	info      ServiceInfo
	daemonID  string
	startedAt time.Time
	convs     Conversations
	index     Index
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewConversationService creates the service. index may be nil.
func NewConversationService(info ServiceInfo, convs Conversations, index Index, b *bus.Bus, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		info:      info,
		daemonID:  uuid.NewString(),
		startedAt: time.Now(),
		convs:     convs,
		index:     index,
		bus:       b,
		logger:    logger,
	}
}

func (s *ConversationService) Open(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OpenRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	v, err := s.convs.Open(ctx, conversation.OpenRequest{Peer: req.Peer, Message: req.Message, Post: req.Post})
	if err != nil {
		return nil, toStatus("open", err)
	}
	return s.snapshotStruct(v)
}

func (s *ConversationService) Close(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.convs.Close(); err != nil {
		return nil, toStatus("close", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) Snapshot(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := s.convs.Active()
	if err != nil {
		return nil, toStatus("snapshot", err)
	}
	return s.snapshotStruct(v)
}

func (s *ConversationService) LoadOlder(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := s.convs.Active()
	if err != nil {
		return nil, toStatus("load older", err)
	}
	requested, err := v.ReachOldest(ctx)
	if err != nil {
		return nil, toStatus("load older", err)
	}
	out, err := ToStruct(LoadOlderResponse{
		Requested: requested,
		Snapshot:  SnapshotFrom(v.Snapshot(), v.Peer(), v.ConnectionState()),
	})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

func (s *ConversationService) Send(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req SendRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "send: empty body")
	}
	v, err := s.convs.Active()
	if err != nil {
		return nil, toStatus("send", err)
	}
	if err := v.Compose(ctx, req.Body); err != nil {
		return nil, toStatus("send", err)
	}
	return &emptypb.Empty{}, nil
}

// Watch streams transcript snapshots, connection changes and conversation
// lifecycle events until the client goes away.
func (s *ConversationService) Watch(_ *emptypb.Empty, stream WatchServer) error {
	sub := s.bus.Subscribe("", 128)
	defer sub.Close()

	if v, err := s.convs.Active(); err == nil {
		snap := SnapshotFrom(v.Snapshot(), v.Peer(), v.ConnectionState())
		if err := s.sendWatch(stream, WatchEvent{
			Kind:         bus.KindSnapshot,
			Conversation: v.ID(),
			Snapshot:     &snap,
		}, time.Now()); err != nil {
			return err
		}
	}

	for {
		select {
		case evt := <-sub.C:
			we, ok := s.watchEvent(evt)
			if !ok {
				continue
			}
			if err := s.sendWatch(stream, we, evt.Timestamp); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *ConversationService) watchEvent(evt bus.Event) (WatchEvent, bool) {
	we := WatchEvent{Kind: evt.Kind}
	switch p := evt.Payload.(type) {
	case transcript.Snapshot:
		peer, _ := conversation.Peer(p.Conversation, p.LocalUser)
		conn := status.Uninstantiated
		if v, err := s.convs.Active(); err == nil && v.ID() == p.Conversation {
			conn = v.ConnectionState()
		}
		snap := SnapshotFrom(p, peer, conn)
		we.Conversation = p.Conversation
		we.Snapshot = &snap
	case status.StatusChange:
		we.Conversation = p.Conversation
		we.Connection = string(p.To)
	case conversation.Lifecycle:
		we.Conversation = p.Conversation
	default:
		return we, false
	}
	return we, true
}

func (s *ConversationService) sendWatch(stream WatchServer, we WatchEvent, at time.Time) error {
	we.EventID = uuid.NewString()
	we.OccurredAtUnixMs = at.UnixMilli()
	out, err := ToStruct(we)
	if err != nil {
		s.logger.Error("encode watch event", zap.Error(err), zap.String("kind", we.Kind))
		return nil
	}
	return stream.Send(out)
}

func (s *ConversationService) Recent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.index == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "conversation index not available")
	}
	var req RecentRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	rows, err := s.index.ListConversations(ctx, s.convs.Local(), req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list conversations: %v", err)
	}

	var active string
	if v, err := s.convs.Active(); err == nil {
		active = v.ID()
	}
	resp := RecentResponse{Conversations: make([]Conversation, 0, len(rows))}
	for _, c := range rows {
		resp.Conversations = append(resp.Conversations, conversationFrom(c, active))
	}
	out, err := ToStruct(resp)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

func (s *ConversationService) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	resp := StatusResponse{
		Session:   s.info.Session,
		DaemonID:  s.daemonID,
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
		LocalUser: s.convs.Local(),
		ServerURL: s.info.ServerURL,
	}
	if v, err := s.convs.Active(); err == nil {
		snap := v.Snapshot()
		resp.Conversation = v.ID()
		resp.Connection = string(v.ConnectionState())
		resp.SyncState = string(snap.State)
		resp.Messages = len(snap.Messages)
	}
	out, err := ToStruct(resp)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

func (s *ConversationService) snapshotStruct(v *conversation.View) (*structpb.Struct, error) {
	out, err := ToStruct(SnapshotFrom(v.Snapshot(), v.Peer(), v.ConnectionState()))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, conversation.ErrNoConversation):
		code = codes.FailedPrecondition
	case errors.Is(err, conversation.ErrInvalidPeer), errors.Is(err, conversation.ErrPostWithoutMessage),
		errors.Is(err, transcript.ErrBodyTooLong):
		code = codes.InvalidArgument
	case errors.Is(err, transcript.ErrTransportUnavailable):
		code = codes.Unavailable
	case errors.Is(err, channel.ErrQueueFull):
		code = codes.ResourceExhausted
	case errors.Is(err, conversation.ErrViewClosed), errors.Is(err, transcript.ErrClosed):
		code = codes.Aborted
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
