// Package transport owns the byte-oriented media a link runs over.
//
// Ownership boundary:
// - the Port contract consumed by the session engine
// - in-memory null-modem pairs for tests and local loopback
// - net.Conn and serial-port adapters
//
// Adapters never block a Read longer than their poll interval: "no byte yet"
// is reported as iox.ErrWouldBlock so the caller can observe cancellation and
// link state changes between bytes.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed              = errors.New("transport: closed")
	ErrWriteTimeout        = errors.New("transport: write timeout")
	ErrInvalidSerialConfig = errors.New("transport: invalid serial config")
)

// DefaultReadPoll bounds how long a single Read may block.
const DefaultReadPoll = 100 * time.Millisecond

// Port is a raw byte link. Read returns at least one byte, or iox.ErrWouldBlock
// after the adapter's poll interval. Write honors the ctx deadline as the write
// timeout where the medium supports one.
type Port interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
	Flush(ctx context.Context) error
	Close() error
}

type options struct {
	readPoll time.Duration
}

// Option configures an adapter.
type Option func(*options)

// WithReadPoll sets the longest a single Read blocks before returning
// iox.ErrWouldBlock. Zero makes reads non-blocking.
func WithReadPoll(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.readPoll = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{readPoll: DefaultReadPoll}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// deadline returns the ctx deadline, or the zero time when ctx has none.
func deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}
