// Package bridge exposes a Link over gRPC so other local processes can share
// one physical port.
//
// The service is declared by hand on top of well-known protobuf types:
//
//	service linkctl.bridge.v1.Link {
//	  rpc Connect(google.protobuf.Empty) returns (google.protobuf.Empty);
//	  rpc Disconnect(google.protobuf.Empty) returns (google.protobuf.Empty);
//	  rpc Send(google.protobuf.BytesValue) returns (google.protobuf.Empty);
//	  rpc Recv(google.protobuf.Empty) returns (google.protobuf.BytesValue);
//	  rpc State(google.protobuf.Empty) returns (google.protobuf.StringValue);
//	}
package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "linkctl.bridge.v1.Link"

// LinkServer is the server API for the Link service.
type LinkServer interface {
	Connect(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Disconnect(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Send(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Recv(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	State(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req, Resp any](name string, newReq func() Req, call func(LinkServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				out, err := call(srv.(LinkServer), ctx, in)
				return out, err
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(LinkServer), ctx, req.(Req))
				return out, err
			})
		},
	}
}

func newEmpty() *emptypb.Empty {
	return new(emptypb.Empty)
}

func newBytesValue() *wrapperspb.BytesValue {
	return new(wrapperspb.BytesValue)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LinkServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Connect", newEmpty, LinkServer.Connect),
		unaryMethod("Disconnect", newEmpty, LinkServer.Disconnect),
		unaryMethod("Send", newBytesValue, LinkServer.Send),
		unaryMethod("Recv", newEmpty, LinkServer.Recv),
		unaryMethod("State", newEmpty, LinkServer.State),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "linkctl/bridge/v1/link.proto",
}

func Register(reg grpc.ServiceRegistrar, srv LinkServer) {
	reg.RegisterService(&serviceDesc, srv)
}
