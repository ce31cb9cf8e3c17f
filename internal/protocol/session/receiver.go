package session

import (
	"context"
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"github.com/danmuck/linkctl/internal/protocol/frame"
	"github.com/danmuck/linkctl/internal/transport"
)

// receive reads the port one byte at a time while the link is Connecting or
// Connected and sleeps on the state channel otherwise. The parser is reset on
// every state change, so a frame never spans two states.
//
// A Read that began while listening can return after a local Disconnect. That
// byte is held, not dropped, and fed first once the link listens again, so the
// port looks untouched while the link is Disconnected.
func (l *Link) receive(ctx context.Context) {
	defer close(l.done)
	parser := frame.NewParser(l.cfg.Limits)
	buf := make([]byte, 1)
	var bo iox.Backoff
	var parsedEpoch uint64
	held := false

	for {
		state, _, changed := l.sm.watch()
		if !state.listening() {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return
			}
		}

		if held {
			held = !l.feed(ctx, parser, &parsedEpoch, buf[0])
			continue
		}

		n, err := l.port.Read(ctx, buf)
		if err != nil {
			if iox.IsWouldBlock(err) {
				bo.Wait()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				l.log.Info().Msg("session.Link.receive port closed")
				return
			}
			l.log.Error().Err(err).Msg("session.Link.receive read failed")
			return
		}
		bo.Reset()
		if n == 0 {
			continue
		}

		held = !l.feed(ctx, parser, &parsedEpoch, buf[0])
	}
}

// feed parses b in the mode of the current state, resetting the parser when
// the state moved since the last byte. It reports false, leaving b unparsed,
// when the link is not listening.
func (l *Link) feed(ctx context.Context, parser *frame.Parser, parsedEpoch *uint64, b byte) bool {
	state, epoch, _ := l.sm.watch()
	if epoch != *parsedEpoch {
		parser.Reset()
		*parsedEpoch = epoch
	}
	if !state.listening() {
		return false
	}
	mode := frame.ModeHandshake
	if state == StateConnected {
		mode = frame.ModeConnected
	}
	l.dispatch(ctx, parser.Feed(mode, b))
	return true
}

func (l *Link) dispatch(ctx context.Context, ev frame.Event) {
	switch ev.Kind {
	case frame.EventNone:
	case frame.EventJoin:
		l.stats.joinsReceived.Add(1)
		from, _, ok := l.sm.apply(triggerPeerJoin)
		if !ok {
			return
		}
		if from != StateConnected {
			l.log.Info().Msg("session.Link.receive connected")
		}
		l.ack(ctx)
	case frame.EventLeave:
		l.stats.leavesReceived.Add(1)
		if _, _, ok := l.sm.apply(triggerPeerLeave); ok {
			l.log.Info().Msg("session.Link.receive peer left")
		}
	case frame.EventAck:
		l.stats.acksReceived.Add(1)
	case frame.EventPayload:
		l.stats.payloadsReceived.Add(1)
		l.inbox.Push(ev.Payload)
	case frame.EventDesync:
		l.stats.desyncs.Add(1)
		l.log.Debug().Msg("session.Link.receive desync")
	case frame.EventOversize:
		l.stats.oversizeDrops.Add(1)
		l.log.Debug().Int("max_payload_bytes", l.cfg.Limits.MaxPayloadBytes).Msg("session.Link.receive oversize payload dropped")
	}
}

func (l *Link) ack(ctx context.Context) {
	ackCtx, cancel := context.WithTimeout(ctx, l.cfg.AckTimeout)
	defer cancel()
	if err := l.writeControl(ackCtx, frame.TypeAck); err != nil {
		l.log.Warn().Err(err).Msg("session.Link.receive ack write failed")
		return
	}
	l.stats.acksSent.Add(1)
}
