package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

func TestPipeDeliversBytesInOrder(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	ctx := context.Background()
	if _, err := a.Write(ctx, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	for _, want := range []byte("abc") {
		n, err := b.Read(ctx, buf)
		if err != nil || n != 1 {
			t.Fatalf("read: n=%d err=%v", n, err)
		}
		if buf[0] != want {
			t.Fatalf("got %q want %q", buf[0], want)
		}
	}
}

func TestPipeReadPollReturnsWouldBlock(t *testing.T) {
	testlog.Start(t)
	_, b := Pipe(WithReadPoll(10 * time.Millisecond))
	start := time.Now()
	_, err := b.Read(context.Background(), make([]byte, 1))
	if !iox.IsWouldBlock(err) {
		t.Fatalf("expected would block, got %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("read returned before poll interval")
	}

	_, nb := Pipe(WithReadPoll(0))
	if _, err := nb.Read(context.Background(), make([]byte, 1)); !iox.IsWouldBlock(err) {
		t.Fatalf("non-blocking read: expected would block, got %v", err)
	}
}

func TestPipeReadWakesOnWrite(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(WithReadPoll(5 * time.Second))
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = a.Write(context.Background(), []byte{0x8F})
	}()
	buf := make([]byte, 1)
	n, err := b.Read(context.Background(), buf)
	if err != nil || n != 1 || buf[0] != 0x8F {
		t.Fatalf("read: n=%d err=%v byte=%x", n, err, buf[0])
	}
}

func TestPipeReadHonorsCancel(t *testing.T) {
	testlog.Start(t)
	_, b := Pipe(WithReadPoll(5 * time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := b.Read(ctx, make([]byte, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestPipeCloseDrainsThenEOF(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	ctx := context.Background()
	if _, err := a.Write(ctx, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	buf := make([]byte, 4)
	if n, err := b.Read(ctx, buf); err != nil || n != 1 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	if _, err := b.Read(ctx, buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, err := b.Write(ctx, []byte{2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPipeWriteIgnoresExpiredDeadline(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	if n, err := a.Write(ctx, []byte{7}); err != nil || n != 1 {
		t.Fatalf("non-blocking write: n=%d err=%v", n, err)
	}
	if b.Pending() != 1 {
		t.Fatalf("unexpected pending: %d", b.Pending())
	}
}

func TestPipeInject(t *testing.T) {
	testlog.Start(t)
	_, b := Pipe()
	b.Inject([]byte{0x7F, 0x80})
	buf := make([]byte, 2)
	n, err := b.Read(context.Background(), buf)
	if err != nil || n != 2 || buf[0] != 0x7F || buf[1] != 0x80 {
		t.Fatalf("inject: n=%d err=%v buf=% x", n, err, buf)
	}
}
