package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "incidentconsole.v1.Console"

// Full method names.
const (
	MethodAnalyzeLogs    = "/" + ServiceName + "/AnalyzeLogs"
	MethodListJobs       = "/" + ServiceName + "/ListJobs"
	MethodCreateJob      = "/" + ServiceName + "/CreateJob"
	MethodUpdateJob      = "/" + ServiceName + "/UpdateJob"
	MethodDeleteJob      = "/" + ServiceName + "/DeleteJob"
	MethodPrepareJobEdit = "/" + ServiceName + "/PrepareJobEdit"
	MethodScanLogs       = "/" + ServiceName + "/ScanLogs"
	MethodGetAnalytics   = "/" + ServiceName + "/GetAnalytics"
	MethodWatchFeed      = "/" + ServiceName + "/WatchFeed"
)

// ConsoleServer is the server API for the Console service. Requests and
// responses are JSON-shaped structpb.Struct messages.
type ConsoleServer interface {
	AnalyzeLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PrepareJobEdit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScanLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAnalytics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchFeed(*structpb.Struct, Console_WatchFeedServer) error
}

// Console_WatchFeedServer is the server side of a WatchFeed stream.
type Console_WatchFeedServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type consoleWatchFeedServer struct {
	grpc.ServerStream
}

func (x *consoleWatchFeedServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterConsoleServer registers srv with s.
func RegisterConsoleServer(s grpc.ServiceRegistrar, srv ConsoleServer) {
	s.RegisterService(&Console_ServiceDesc, srv)
}

type unaryCall func(ConsoleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConsoleServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ConsoleServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchFeedHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ConsoleServer).WatchFeed(m, &consoleWatchFeedServer{stream})
}

// Console_ServiceDesc is the grpc.ServiceDesc for the Console service.
var Console_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsoleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeLogs", Handler: unaryHandler(MethodAnalyzeLogs, ConsoleServer.AnalyzeLogs)},
		{MethodName: "ListJobs", Handler: unaryHandler(MethodListJobs, ConsoleServer.ListJobs)},
		{MethodName: "CreateJob", Handler: unaryHandler(MethodCreateJob, ConsoleServer.CreateJob)},
		{MethodName: "UpdateJob", Handler: unaryHandler(MethodUpdateJob, ConsoleServer.UpdateJob)},
		{MethodName: "DeleteJob", Handler: unaryHandler(MethodDeleteJob, ConsoleServer.DeleteJob)},
		{MethodName: "PrepareJobEdit", Handler: unaryHandler(MethodPrepareJobEdit, ConsoleServer.PrepareJobEdit)},
		{MethodName: "ScanLogs", Handler: unaryHandler(MethodScanLogs, ConsoleServer.ScanLogs)},
		{MethodName: "GetAnalytics", Handler: unaryHandler(MethodGetAnalytics, ConsoleServer.GetAnalytics)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchFeed", Handler: watchFeedHandler, ServerStreams: true},
	},
	Metadata: "incidentconsole/v1/console.proto",
}

// ConsoleClient is the client API for the Console service.
type ConsoleClient struct {
	cc grpc.ClientConnInterface
}

// NewConsoleClient wraps cc.
func NewConsoleClient(cc grpc.ClientConnInterface) *ConsoleClient {
	return &ConsoleClient{cc: cc}
}

// Call invokes a unary method by its full name.
func (c *ConsoleClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchFeed opens a WatchFeed stream.
func (c *ConsoleClient) WatchFeed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*ConsoleWatchFeedClient, error) {
	stream, err := c.cc.NewStream(ctx, &Console_ServiceDesc.Streams[0], MethodWatchFeed, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ConsoleWatchFeedClient{stream}, nil
}

// ConsoleWatchFeedClient is the client side of a WatchFeed stream.
type ConsoleWatchFeedClient struct {
	grpc.ClientStream
}

// Recv blocks for the next feed update.
func (x *ConsoleWatchFeedClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
