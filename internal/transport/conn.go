package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/iox"
)

// Conn adapts a net.Conn (TCP, a serial-over-IP bridge, net.Pipe) to Port.
// Read polls with a read deadline; Write maps the ctx deadline onto the
// connection's write deadline.
type Conn struct {
	conn  net.Conn
	poll  time.Duration
	close sync.Once
	err   error
}

func NewConn(c net.Conn, opts ...Option) *Conn {
	o := buildOptions(opts)
	return &Conn{conn: c, poll: o.readPoll}
}

// DialTCP connects to a peer exposing the link on addr.
func DialTCP(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewConn(c, opts...), nil
}

// ListenTCP waits on addr for exactly one peer and returns it as a Port.
func ListenTCP(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	defer ln.Close()
	return AcceptTCP(ctx, ln, opts...)
}

// AcceptTCP accepts one connection from ln, giving up when ctx is done.
func AcceptTCP(ctx context.Context, ln net.Listener, opts ...Option) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		done <- result{conn: c, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		r := <-done
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("transport: accept: %w", r.err)
		}
		return NewConn(r.conn, opts...), nil
	}
}

func (c *Conn) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dl := time.Now().Add(c.poll)
	if ctxDl, ok := ctx.Deadline(); ok && ctxDl.Before(dl) {
		dl = ctxDl
	}
	if err := c.conn.SetReadDeadline(dl); err != nil {
		return 0, mapConnErr(err)
	}
	n, err := c.conn.Read(buf)
	if n > 0 {
		return n, nil
	}
	if isTimeout(err) {
		return 0, iox.ErrWouldBlock
	}
	return 0, mapConnErr(err)
}

func (c *Conn) Write(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return 0, err
	}
	if err := c.conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return 0, mapConnErr(err)
	}
	n, err := c.conn.Write(buf)
	if err != nil {
		if isTimeout(err) {
			return n, fmt.Errorf("%w: %v", ErrWriteTimeout, err)
		}
		return n, mapConnErr(err)
	}
	return n, nil
}

func (c *Conn) Flush(context.Context) error {
	if f, ok := c.conn.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (c *Conn) Close() error {
	c.close.Do(func() {
		c.err = c.conn.Close()
	})
	return c.err
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func mapConnErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
