// Package client talks to a session daemon over its Unix socket.
package client

import (
	"context"
	"fmt"

	"github.com/zerohunger/zhchat/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Open opens the conversation with req.Peer and returns its snapshot.
func (c *Client) Open(ctx context.Context, req api.OpenRequest) (*api.Snapshot, error) {
	var out api.Snapshot
	if err := c.call(ctx, api.MethodOpen, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseConversation closes the open conversation.
func (c *Client) CloseConversation(ctx context.Context) error {
	return c.conn.Invoke(ctx, api.MethodClose, &emptypb.Empty{}, &emptypb.Empty{})
}

// Snapshot returns the open conversation's transcript.
func (c *Client) Snapshot(ctx context.Context) (*api.Snapshot, error) {
	var out api.Snapshot
	if err := c.call(ctx, api.MethodSnapshot, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadOlder requests the next page of older history.
func (c *Client) LoadOlder(ctx context.Context) (*api.LoadOlderResponse, error) {
	var out api.LoadOlderResponse
	if err := c.call(ctx, api.MethodLoadOlder, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send composes body in the open conversation.
func (c *Client) Send(ctx context.Context, body string) error {
	in, err := api.ToStruct(api.SendRequest{Body: body})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, api.MethodSend, in, &emptypb.Empty{})
}

// Recent lists recorded conversations, most recent first.
func (c *Client) Recent(ctx context.Context, limit int) (*api.RecentResponse, error) {
	var out api.RecentResponse
	if err := c.call(ctx, api.MethodRecent, api.RecentRequest{Limit: limit}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status describes the daemon and its open conversation.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.call(ctx, api.MethodStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch subscribes to daemon events until ctx is cancelled.
func (c *Client) Watch(ctx context.Context) (*Watcher, error) {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.MethodWatch)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Watcher reads a Watch stream.
type Watcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *Watcher) Recv() (*api.WatchEvent, error) {
	in := &structpb.Struct{}
	if err := w.stream.RecvMsg(in); err != nil {
		return nil, err
	}
	var evt api.WatchEvent
	if err := api.FromStruct(in, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// call invokes a unary method. A nil req sends Empty; out is decoded from
// the Struct reply.
func (c *Client) call(ctx context.Context, method string, req, out any) error {
	var in proto.Message = &emptypb.Empty{}
	if req != nil {
		s, err := api.ToStruct(req)
		if err != nil {
			return err
		}
		in = s
	}
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, reply); err != nil {
		return err
	}
	return api.FromStruct(reply, out)
}
