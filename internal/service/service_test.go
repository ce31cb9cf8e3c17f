package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
	"github.com/danmuck/linkctl/internal/transport"
)

func pipeService(t *testing.T) (*Service, *session.Link) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NodeID = "edge-test"
	cfg.Transport.Kind = TransportTCP
	cfg.Transport.Address = "in-memory"
	cfg.ConnectTimeout = 2 * time.Second
	cfg.Link.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 40 * time.Millisecond}

	local, remote := transport.Pipe(transport.WithReadPoll(5 * time.Millisecond))
	svc := NewService(cfg)
	svc.open = func(context.Context) (transport.Port, error) {
		return local, nil
	}
	peer := session.New(remote, session.Config{Name: "peer"})
	t.Cleanup(func() { _ = peer.Close() })
	return svc, peer
}

func TestServeDialsAndLeavesOnShutdown(t *testing.T) {
	testlog.Start(t)
	svc, peer := pipeService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	if err := peer.Connect(context.Background()); err != nil {
		t.Fatalf("peer connect: %v", err)
	}
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if err := peer.WaitConnected(wctx); err != nil {
		t.Fatalf("peer never connected: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for svc.Link() == nil || !svc.Link().IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("service link never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := svc.Link().Name(); got != "edge-test" {
		t.Fatalf("link name defaulted to %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
	deadline = time.Now().Add(2 * time.Second)
	for peer.Stats().LeavesReceived == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("peer did not see a leave")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitLinkState(t *testing.T, svc *Service, want session.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for svc.Link() == nil || svc.Link().State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("service link never reached %s", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeRedialsAfterPeerLeaves(t *testing.T) {
	testlog.Start(t)
	svc, peer := pipeService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	if err := peer.Dial(dctx); err != nil {
		t.Fatalf("peer dial: %v", err)
	}
	waitLinkState(t, svc, session.StateConnected)

	// the peer restarts its side of the link
	if err := peer.Disconnect(); err != nil {
		t.Fatalf("peer disconnect: %v", err)
	}
	waitLinkState(t, svc, session.StateConnecting)
	if err := peer.Dial(dctx); err != nil {
		t.Fatalf("peer redial: %v svc=%s", err, svc.Link().State())
	}
	waitLinkState(t, svc, session.StateConnected)

	if err := peer.Send(dctx, []byte("again")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := svc.Link().Recv(dctx)
	if err != nil || string(got) != "again" {
		t.Fatalf("recv: %q err=%v", got, err)
	}
}

func TestServeStopsWhenPortCloses(t *testing.T) {
	testlog.Start(t)
	svc, peer := pipeService(t)
	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	_ = peer.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error when the port goes away")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not notice the closed port")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("serial without device: %v", err)
	}
	cfg.Transport.Serial.Device = "/dev/ttyUSB0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid serial config: %v", err)
	}

	cfg.Transport.Kind = "carrier-pigeon"
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("unknown kind: %v", err)
	}

	cfg.Transport.Kind = TransportTCPListen
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("listen without address: %v", err)
	}
	cfg.Transport.Address = "127.0.0.1:7300"
	cfg.NodeID = " "
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("blank node id: %v", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	svc := NewService(DefaultConfig())
	if _, err := svc.Start(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
