package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/protocol/frame"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/rs/zerolog"
)

// Link is one end of a point-to-point link. It owns its Port and a receive
// goroutine that runs from New until Close.
//
// Deadlines on ctx arguments are the operation timeout: no deadline blocks
// until done, a future deadline bounds the wait, and an expired deadline makes
// a single non-blocking attempt.
type Link struct {
	port  transport.Port
	cfg   Config
	log   zerolog.Logger
	sm    *stateMachine
	inbox *Inbox
	stats counters

	// wmu keeps caller frames and receiver Acks from interleaving on the wire.
	wmu sync.Mutex

	closing   <-chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New wraps port and starts the receiver. The link begins Disconnected.
func New(port transport.Port, cfg Config) *Link {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.Component("session")
	if cfg.Name != "" {
		logger = logger.With().Str("link", cfg.Name).Logger()
	}
	l := &Link{
		port:    port,
		cfg:     cfg,
		log:     logger,
		sm:      newStateMachine(),
		inbox:   NewInbox(),
		closing: ctx.Done(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.receive(ctx)
	return l
}

func (l *Link) Name() string {
	return l.cfg.Name
}

func (l *Link) State() State {
	return l.sm.load()
}

func (l *Link) IsConnected() bool {
	return l.sm.load() == StateConnected
}

func (l *Link) Stats() Stats {
	return l.stats.snapshot()
}

// Done is closed once the receiver has exited, after Close or when the port
// reports EOF.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) closed() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

// Connect announces this side with a Join. nil means the Join was written.
// An already connected link returns nil without writing. A failed write
// leaves the link Connecting.
func (l *Link) Connect(ctx context.Context) error {
	if l.closed() {
		return ErrClosed
	}
	from, _, ok := l.sm.apply(triggerConnect)
	if !ok {
		return fmt.Errorf("%w: connect from %s", ErrLeaving, from)
	}
	if from == StateConnected {
		return nil
	}
	if err := l.writeControl(ctx, frame.TypeJoin); err != nil {
		l.log.Warn().Err(err).Msg("session.Link.Connect join write failed")
		return err
	}
	l.stats.joinsSent.Add(1)
	l.log.Debug().Str("from", from.String()).Msg("session.Link.Connect join sent")
	return nil
}

// Disconnect sends a Leave, bounded by Config.LeaveTimeout, and always ends
// Disconnected. It does nothing unless the link is Connected. The returned
// error only reports a failed Leave write.
func (l *Link) Disconnect() error {
	if _, _, ok := l.sm.apply(triggerLeaveBegin); !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.LeaveTimeout)
	defer cancel()
	err := l.writeControl(ctx, frame.TypeLeave)
	l.sm.apply(triggerLeaveDone)
	if err != nil {
		l.log.Warn().Err(err).Msg("session.Link.Disconnect leave write failed")
		return err
	}
	l.stats.leavesSent.Add(1)
	l.log.Info().Msg("session.Link.Disconnect left")
	return nil
}

// Send frames payload as one Data message.
func (l *Link) Send(ctx context.Context, payload []byte) error {
	if l.sm.load() != StateConnected {
		return ErrNotConnected
	}
	if err := frame.CheckPayload(payload, l.cfg.Limits); err != nil {
		return err
	}
	if err := l.write(ctx, frame.EncodeData(payload)); err != nil {
		return err
	}
	l.stats.payloadsSent.Add(1)
	return nil
}

// Recv returns the oldest received payload. It fails fast with
// ErrNotConnected unless Connected, and returns ErrNoData when the deadline
// passes with nothing queued.
func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	if l.sm.load() != StateConnected {
		return nil, ErrNotConnected
	}
	return l.inbox.Pop(ctx)
}

// WaitConnected blocks until the link is Connected.
func (l *Link) WaitConnected(ctx context.Context) error {
	for {
		state, _, changed := l.sm.watch()
		if state == StateConnected {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrClosed
		}
	}
}

// WaitChange blocks until the state is no longer from and returns the new
// state. Transitions that return to from before the wait observes them are
// not reported.
func (l *Link) WaitChange(ctx context.Context, from State) (State, error) {
	for {
		state, _, changed := l.sm.watch()
		if state != from {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		case <-l.done:
			return state, ErrClosed
		}
	}
}

// Dial connects and keeps re-sending Join with backoff until the peer's Join
// arrives or ctx ends. It covers a peer that was not listening when the first
// Join went out. A peer that is already Connected only Acks, so a side whose
// peer left must Dial again for the peer to complete its own handshake.
func (l *Link) Dial(ctx context.Context) error {
	sched := newJoinSchedule(l.cfg.Backoff, time.Now().UnixNano())
	for attempt := 1; ; attempt++ {
		if err := l.Connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, transport.ErrClosed) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		delay := sched.next()
		waitCtx, cancel := context.WithTimeout(ctx, delay)
		err := l.WaitConnected(waitCtx)
		cancel()
		switch {
		case err == nil:
			l.log.Info().Int("attempts", attempt).Msg("session.Link.Dial connected")
			return nil
		case errors.Is(err, ErrClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		l.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("session.Link.Dial retry")
	}
}

// Close stops the receiver and closes the port. It does not send a Leave.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.inbox.Close()
		l.closeErr = l.port.Close()
		<-l.done
	})
	return l.closeErr
}

func (l *Link) writeControl(ctx context.Context, t frame.MessageType) error {
	raw, err := frame.EncodeControl(t)
	if err != nil {
		return err
	}
	return l.write(ctx, raw)
}

func (l *Link) write(ctx context.Context, raw []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	n, err := l.port.Write(ctx, raw)
	if err != nil {
		l.stats.writeFailures.Add(1)
		return fmt.Errorf("session: write: %w", err)
	}
	if n != len(raw) {
		l.stats.writeFailures.Add(1)
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(raw))
	}
	if err := l.port.Flush(ctx); err != nil {
		l.stats.writeFailures.Add(1)
		return fmt.Errorf("session: flush: %w", err)
	}
	return nil
}
