package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "casechat.admin.v1.Admin"

// Method names.
const (
	MethodStatus              = "Status"
	MethodRoomStats           = "RoomStats"
	MethodUnreadCount         = "UnreadCount"
	MethodListMessages        = "ListMessages"
	MethodBootstrapDirectChat = "BootstrapDirectChat"
	MethodIssueToken          = "IssueToken"
	MethodUpsertUser          = "UpsertUser"
	MethodWatchEvents         = "WatchEvents"
)

// AdminServer is the server API for the admin service. Requests and
// responses are free-form structs.
type AdminServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RoomStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnreadCount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BootstrapDirectChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type unaryCall func(AdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type eventStream struct {
	grpc.ServerStream
}

func (s eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AdminServer).WatchEvents(in, eventStream{stream})
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, AdminServer.Status),
		unary(MethodRoomStats, AdminServer.RoomStats),
		unary(MethodUnreadCount, AdminServer.UnreadCount),
		unary(MethodListMessages, AdminServer.ListMessages),
		unary(MethodBootstrapDirectChat, AdminServer.BootstrapDirectChat),
		unary(MethodIssueToken, AdminServer.IssueToken),
		unary(MethodUpsertUser, AdminServer.UpsertUser),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "casechat/admin/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client calls the admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a unary method by name.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventReceiver is the client side of WatchEvents.
type EventReceiver interface {
	Recv() (*structpb.Struct, error)
}

type eventReceiver struct {
	grpc.ClientStream
}

func (r eventReceiver) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := r.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchEvents streams bus events whose kind starts with namespace.
func (c *Client) WatchEvents(ctx context.Context, namespace string, opts ...grpc.CallOption) (EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodWatchEvents), opts...)
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return eventReceiver{stream}, nil
}
