package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"code.hybscloud.com/iox"
)

// PipeEnd is one side of an in-memory null-modem cable. Writes land in the
// peer's receive buffer and never block, like a UART with a deep FIFO.
type PipeEnd struct {
	rx    *pipeBuffer
	tx    *pipeBuffer
	poll  time.Duration
	close sync.Once
}

type pipeBuffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	ready  chan struct{}
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{ready: make(chan struct{}, 1)}
}

func (b *pipeBuffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Pipe returns two connected ends. Bytes written to one are read from the other.
func Pipe(opts ...Option) (*PipeEnd, *PipeEnd) {
	o := buildOptions(opts)
	ab := newPipeBuffer()
	ba := newPipeBuffer()
	a := &PipeEnd{rx: ba, tx: ab, poll: o.readPoll}
	b := &PipeEnd{rx: ab, tx: ba, poll: o.readPoll}
	return a, b
}

func (p *PipeEnd) Read(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		p.rx.mu.Lock()
		if len(p.rx.data) > 0 {
			n := copy(buf, p.rx.data)
			p.rx.data = p.rx.data[n:]
			if len(p.rx.data) > 0 {
				p.rx.signal()
			}
			p.rx.mu.Unlock()
			return n, nil
		}
		closed := p.rx.closed
		p.rx.mu.Unlock()

		if closed {
			return 0, io.EOF
		}
		if p.poll <= 0 {
			return 0, iox.ErrWouldBlock
		}
		if timer == nil {
			timer = time.NewTimer(p.poll)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
			return 0, iox.ErrWouldBlock
		case <-p.rx.ready:
		}
	}
}

func (p *PipeEnd) Write(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return 0, err
	}
	p.tx.mu.Lock()
	defer p.tx.mu.Unlock()
	if p.tx.closed {
		return 0, ErrClosed
	}
	p.tx.data = append(p.tx.data, buf...)
	p.tx.signal()
	return len(buf), nil
}

func (p *PipeEnd) Flush(context.Context) error {
	return nil
}

// Close hangs up both directions. The peer drains what was already written
// and then reads io.EOF.
func (p *PipeEnd) Close() error {
	p.close.Do(func() {
		for _, b := range []*pipeBuffer{p.rx, p.tx} {
			b.mu.Lock()
			b.closed = true
			b.signal()
			b.mu.Unlock()
		}
	})
	return nil
}

// Inject writes raw bytes toward this end as if they arrived on the wire.
// Tests use it to model line noise.
func (p *PipeEnd) Inject(raw []byte) {
	p.rx.mu.Lock()
	defer p.rx.mu.Unlock()
	p.rx.data = append(p.rx.data, raw...)
	p.rx.signal()
}

// Pending is the number of bytes written toward this end and not yet read.
func (p *PipeEnd) Pending() int {
	p.rx.mu.Lock()
	defer p.rx.mu.Unlock()
	return len(p.rx.data)
}
