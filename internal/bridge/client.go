package bridge

import (
	"context"
	"fmt"

	"github.com/danmuck/linkctl/internal/protocol/frame"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a remote bridge. Status codes are mapped back onto the
// session and frame sentinels, so callers can use errors.Is as they would
// against a local Link.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Connect(ctx context.Context, opts ...grpc.CallOption) error {
	return fromStatus(c.cc.Invoke(ctx, fullMethod("Connect"), &emptypb.Empty{}, new(emptypb.Empty), opts...), false)
}

func (c *Client) Disconnect(ctx context.Context, opts ...grpc.CallOption) error {
	return fromStatus(c.cc.Invoke(ctx, fullMethod("Disconnect"), &emptypb.Empty{}, new(emptypb.Empty), opts...), false)
}

func (c *Client) Send(ctx context.Context, payload []byte, opts ...grpc.CallOption) error {
	return fromStatus(c.cc.Invoke(ctx, fullMethod("Send"), wrapperspb.Bytes(payload), new(emptypb.Empty), opts...), false)
}

func (c *Client) Recv(ctx context.Context, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fullMethod("Recv"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, fromStatus(err, true)
	}
	return out.GetValue(), nil
}

func (c *Client) State(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod("State"), &emptypb.Empty{}, out, opts...); err != nil {
		return "", fromStatus(err, false)
	}
	return out.GetValue(), nil
}

// fromStatus reverses toStatus. A deadline on Recv means the inbox stayed empty.
func fromStatus(err error, recv bool) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", session.ErrNotConnected, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", frame.ErrPayloadTooLarge, st.Message())
	case codes.DeadlineExceeded:
		if recv {
			return session.ErrNoData
		}
	}
	return err
}
