package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "zhchat.v1.ConversationService"

// Full method names.
const (
	MethodOpen      = "/" + ServiceName + "/Open"
	MethodClose     = "/" + ServiceName + "/Close"
	MethodSnapshot  = "/" + ServiceName + "/Snapshot"
	MethodLoadOlder = "/" + ServiceName + "/LoadOlder"
	MethodSend      = "/" + ServiceName + "/Send"
	MethodWatch     = "/" + ServiceName + "/Watch"
	MethodRecent    = "/" + ServiceName + "/Recent"
	MethodStatus    = "/" + ServiceName + "/Status"
)

// ConversationServer is the server API for ConversationService.
type ConversationServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	LoadOlder(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Watch(*emptypb.Empty, WatchServer) error
	Recent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// WatchServer is the server side of the Watch stream.
type WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// RegisterConversationServer registers srv on s.
func RegisterConversationServer(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes ConversationService for grpc.Server and for clients
// opening the Watch stream.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Open", Handler: unary(MethodOpen, newStruct, ConversationServer.Open)},
		{MethodName: "Close", Handler: unary(MethodClose, newEmpty, ConversationServer.Close)},
		{MethodName: "Snapshot", Handler: unary(MethodSnapshot, newEmpty, ConversationServer.Snapshot)},
		{MethodName: "LoadOlder", Handler: unary(MethodLoadOlder, newEmpty, ConversationServer.LoadOlder)},
		{MethodName: "Send", Handler: unary(MethodSend, newStruct, ConversationServer.Send)},
		{MethodName: "Recent", Handler: unary(MethodRecent, newStruct, ConversationServer.Recent)},
		{MethodName: "Status", Handler: unary(MethodStatus, newEmpty, ConversationServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "zhchat/v1/conversation.proto",
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func unary[Req, Resp proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(ConversationServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ConversationServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConversationServer).Watch(in, &watchServer{stream})
}

type watchServer struct {
	grpc.ServerStream
}

func (w *watchServer) Send(m *structpb.Struct) error {
	return w.ServerStream.SendMsg(m)
}
