package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LaneService messages are protobuf well-known types:
//
//	Open(Struct{description, tracker, extractor}) -> StringValue(session id)
//	Detect(BytesValue(encoded image))             -> Struct(lanes)   session-id metadata
//	Stream(stream BytesValue)                     -> stream Struct   session-id metadata
//	Reset(StringValue(id))                        -> Empty
//	Close(StringValue(id))                        -> Empty
//	Check(StringValue(id))                        -> Struct(session info)
//	CheckAll(Empty)                               -> Struct{sessions: [...]}
//	Shutdown(Empty)                               -> Empty
const ServiceName = "lanedet.LaneService"

const SessionHeader = "session-id"

type LaneServiceServer interface {
	Open(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Detect(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Stream(LaneService_StreamServer) error
	Reset(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Close(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Check(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CheckAll(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type LaneService_StreamServer interface {
	Send(*structpb.Struct) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type laneServiceStreamServer struct {
	grpc.ServerStream
}

func (x *laneServiceStreamServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func (x *laneServiceStreamServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func unaryMethod[Req any](name string, call func(LaneServiceServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(LaneServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var LaneService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LaneServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Open", func(s LaneServiceServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.Open(ctx, in)
		}),
		unaryMethod("Detect", func(s LaneServiceServer, ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
			return s.Detect(ctx, in)
		}),
		unaryMethod("Reset", func(s LaneServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Reset(ctx, in)
		}),
		unaryMethod("Close", func(s LaneServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Close(ctx, in)
		}),
		unaryMethod("Check", func(s LaneServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Check(ctx, in)
		}),
		unaryMethod("CheckAll", func(s LaneServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.CheckAll(ctx, in)
		}),
		unaryMethod("Shutdown", func(s LaneServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.Shutdown(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Stream",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(LaneServiceServer).Stream(&laneServiceStreamServer{stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "lanedet.proto",
}

func RegisterLaneServiceServer(s grpc.ServiceRegistrar, srv LaneServiceServer) {
	s.RegisterService(&LaneService_ServiceDesc, srv)
}

type LaneServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLaneServiceClient(cc grpc.ClientConnInterface) *LaneServiceClient {
	return &LaneServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WithSession attaches a session id to an outgoing context.
func WithSession(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, SessionHeader, id)
}

func (c *LaneServiceClient) Open(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "Open", in, opts...)
}

func (c *LaneServiceClient) Detect(ctx context.Context, id string, image []byte, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](WithSession(ctx, id), c.cc, "Detect", wrapperspb.Bytes(image), opts...)
}

func (c *LaneServiceClient) Reset(ctx context.Context, id string, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Reset", wrapperspb.String(id), opts...)
}

func (c *LaneServiceClient) Close(ctx context.Context, id string, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Close", wrapperspb.String(id), opts...)
}

func (c *LaneServiceClient) Check(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Check", wrapperspb.String(id), opts...)
}

func (c *LaneServiceClient) CheckAll(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "CheckAll", &emptypb.Empty{}, opts...)
}

func (c *LaneServiceClient) Shutdown(ctx context.Context, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Shutdown", &emptypb.Empty{}, opts...)
}

type LaneService_StreamClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type laneServiceStreamClient struct {
	grpc.ClientStream
}

func (x *laneServiceStreamClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *laneServiceStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Stream opens a frame stream on session id.
func (c *LaneServiceClient) Stream(ctx context.Context, id string, opts ...grpc.CallOption) (LaneService_StreamClient, error) {
	stream, err := c.cc.NewStream(WithSession(ctx, id), &LaneService_ServiceDesc.Streams[0], "/"+ServiceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	return &laneServiceStreamClient{stream}, nil
}
