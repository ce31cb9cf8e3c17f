package bridge

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/protocol/frame"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Link is the part of session.Link the bridge serves.
type Link interface {
	State() session.State
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

type Server struct {
	link Link
	log  zerolog.Logger
}

var _ LinkServer = (*Server)(nil)

func NewServer(link Link) *Server {
	return &Server{link: link, log: logging.Component("bridge")}
}

func (s *Server) Connect(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.link.Connect(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Disconnect always succeeds; a failed Leave write is only logged.
func (s *Server) Disconnect(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.link.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("bridge.Server.Disconnect leave write failed")
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Send(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if err := s.link.Send(ctx, in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Recv waits for a payload until the call deadline.
func (s *Server) Recv(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	payload, err := s.link.Recv(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(payload), nil
}

func (s *Server) State(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.link.State().String()), nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrLeaving):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrNoData):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// LoggingInterceptor logs failed calls at warn and the rest at debug.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		code := status.Code(err)
		event := log.Debug()
		if err != nil && code != codes.DeadlineExceeded {
			event = log.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Str("code", code.String()).Msg("bridge.rpc")
		return resp, err
	}
}

// stopGrace bounds GracefulStop. A Recv RPC without a deadline would
// otherwise hold shutdown until a payload arrives.
const stopGrace = 2 * time.Second

// Serve runs the bridge on ln until ctx ends.
func Serve(ctx context.Context, ln net.Listener, link Link) error {
	log := logging.Component("bridge")
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(log)))
	Register(gs, NewServer(link))

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("bridge.Serve listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		timer := time.NewTimer(stopGrace)
		defer timer.Stop()
		select {
		case <-stopped:
		case <-timer.C:
			log.Warn().Dur("grace", stopGrace).Msg("bridge.Serve forcing stop")
			gs.Stop()
			<-stopped
		}
		return nil
	}
}

// ListenAndServe is Serve on a fresh TCP listener.
func ListenAndServe(ctx context.Context, addr string, link Link) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, link)
}
