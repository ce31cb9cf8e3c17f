// Package service wires a Link to its transport and optional surfaces: the
// gRPC bridge, the admin HTTP API, and the message-bus relay.
package service

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/linkctl/internal/admin"
	"github.com/danmuck/linkctl/internal/bridge"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/danmuck/linkctl/internal/relay"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/rs/zerolog"
)

// Service runs one link for the life of the process.
type Service struct {
	cfg  Config
	log  zerolog.Logger
	open func(ctx context.Context) (transport.Port, error)

	mu   sync.Mutex
	link *session.Link
}

func NewService(cfg Config) *Service {
	cfg.Link = cfg.Link.WithDefaults()
	if cfg.Link.Name == "" {
		cfg.Link.Name = cfg.NodeID
	}
	s := &Service{
		cfg: cfg,
		log: logging.Component("service").With().Str("node", cfg.NodeID).Logger(),
	}
	s.open = s.openTransport
	return s
}

// Link is available once Start has opened the transport.
func (s *Service) Link() *session.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Start opens the transport and builds the link without dialing.
func (s *Service) Start(ctx context.Context) (*session.Link, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	link := session.New(port, s.cfg.Link)
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	if err := observability.RegisterLinkCollector(observability.NewLinkCollector(s.cfg.NodeID, link)); err != nil {
		s.log.Warn().Err(err).Msg("service.Service.Start link collector not registered")
	}
	return link, nil
}

// Serve starts the link and every configured surface, dials the peer, and
// blocks until ctx ends or the port goes away. On the way out it sends a
// Leave and closes the port.
func (s *Service) Serve(ctx context.Context) error {
	link, err := s.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := link.Disconnect(); err != nil {
			s.log.Warn().Err(err).Msg("service.Service.Serve leave failed")
		}
		if err := link.Close(); err != nil {
			s.log.Warn().Err(err).Msg("service.Service.Serve close failed")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if addr := strings.TrimSpace(s.cfg.Bridge.Listen); addr != "" {
		run("bridge", func(ctx context.Context) error {
			return bridge.ListenAndServe(ctx, addr, link)
		})
	}
	if addr := strings.TrimSpace(s.cfg.Admin.Listen); addr != "" {
		srv := admin.NewServer(s.cfg.NodeID, link, admin.Options{
			CORSOrigins: s.cfg.Admin.CORSOrigins,
			Limits:      s.cfg.Link.Limits,
			Token:       s.cfg.Admin.Token,
		})
		run("admin", func(ctx context.Context) error {
			return srv.Serve(ctx, addr)
		})
	}
	if strings.TrimSpace(s.cfg.Relay.NATSURL) != "" {
		r, closeRelay, err := s.buildRelay(link)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer closeRelay()
		run("relay", r.Run)
	}
	run("dial", func(ctx context.Context) error {
		return s.supervise(ctx, link)
	})

	s.log.Info().Str("transport", string(s.cfg.Transport.Kind)).Msg("service.Service.Serve running")

	var runErr error
	select {
	case <-ctx.Done():
	case <-link.Done():
		runErr = errors.New("service: link port closed")
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()
	s.log.Info().Msg("service.Service.Serve stopped")
	return runErr
}

// supervise dials once, then dials again every time the peer leaves. The
// peer's next Join only reaches Connected through our Join, since a Connected
// peer answers a reconnecting side with Ack alone.
func (s *Service) supervise(ctx context.Context, link *session.Link) error {
	if err := s.dial(ctx, link); err != nil {
		return err
	}
	state := link.State()
	for {
		next, err := link.WaitChange(ctx, state)
		if err != nil {
			return nil
		}
		if state == session.StateConnected && next == session.StateConnecting {
			s.log.Info().Msg("service.Service.supervise peer left; redialing")
			if err := s.dial(ctx, link); err != nil {
				return err
			}
			next = link.State()
		}
		state = next
	}
}

// dial gives up after ConnectTimeout but leaves the link Connecting, so a
// late peer Join still completes the handshake.
func (s *Service) dial(ctx context.Context, link *session.Link) error {
	dialCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	err := link.Dial(dialCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Warn().Dur("timeout", s.cfg.ConnectTimeout).Msg("service.Service.dial peer not answering; still listening")
		return nil
	default:
		return err
	}
}

func (s *Service) buildRelay(link *session.Link) (*relay.Relay, func(), error) {
	bus, err := relay.DialNATS(s.cfg.Relay.NATSURL, s.cfg.NodeID)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{bus.Close}

	var presence relay.PresenceStore
	if addr := strings.TrimSpace(s.cfg.Relay.RedisAddr); addr != "" {
		client := relay.DialRedis(addr, s.cfg.Relay.RedisPassword, s.cfg.Relay.RedisDB)
		closers = append(closers, client.Close)
		presence = relay.NewRedisPresence(client)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				s.log.Warn().Err(err).Msg("service.Service.buildRelay close failed")
			}
		}
	}

	rcfg := s.cfg.Relay.Relay
	rcfg.Node = s.cfg.NodeID
	r, err := relay.New(rcfg, link, bus, bus, presence)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return r, closeAll, nil
}

func (s *Service) openTransport(ctx context.Context) (transport.Port, error) {
	tc := s.cfg.Transport
	poll := tc.ReadPoll
	if poll <= 0 {
		poll = transport.DefaultReadPoll
	}
	opts := []transport.Option{transport.WithReadPoll(poll)}
	switch tc.Kind {
	case TransportSerial:
		sc := tc.Serial
		sc.ReadPoll = poll
		s.log.Info().Str("device", sc.Device).Int("baud", sc.BaudRate).Msg("service.Service.openTransport serial")
		port, err := transport.OpenSerial(sc)
		if err != nil {
			return nil, err
		}
		return port, nil
	case TransportTCP:
		s.log.Info().Str("address", tc.Address).Msg("service.Service.openTransport dialing")
		conn, err := transport.DialTCP(ctx, tc.Address, opts...)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case TransportTCPListen:
		s.log.Info().Str("address", tc.Address).Msg("service.Service.openTransport waiting for peer")
		conn, err := transport.ListenTCP(ctx, tc.Address, opts...)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, tc.Kind)
	}
}
