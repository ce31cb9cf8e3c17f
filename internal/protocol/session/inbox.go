package session

import (
	"context"
	"errors"
	"sync"
)

// Inbox is an unbounded FIFO of received payloads. The receiver is the only
// producer; any number of callers may consume.
type Inbox struct {
	mu     sync.Mutex
	items  [][]byte
	ready  chan struct{}
	closed chan struct{}
	close  sync.Once
}

func NewInbox() *Inbox {
	return &Inbox{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (i *Inbox) signal() {
	select {
	case i.ready <- struct{}{}:
	default:
	}
}

func (i *Inbox) Push(payload []byte) {
	i.mu.Lock()
	i.items = append(i.items, payload)
	i.mu.Unlock()
	i.signal()
}

func (i *Inbox) TryPop() ([]byte, bool) {
	i.mu.Lock()
	if len(i.items) == 0 {
		i.mu.Unlock()
		return nil, false
	}
	head := i.items[0]
	i.items[0] = nil
	i.items = i.items[1:]
	more := len(i.items) > 0
	i.mu.Unlock()
	// one signal slot is shared by every consumer; pass it on
	if more {
		i.signal()
	}
	return head, true
}

// Pop waits for the oldest payload. An expired ctx makes a single attempt.
// Running out of time yields ErrNoData; cancellation yields ctx.Err().
func (i *Inbox) Pop(ctx context.Context) ([]byte, error) {
	for {
		if payload, ok := i.TryPop(); ok {
			return payload, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, popErr(err)
		}
		select {
		case <-i.ready:
		case <-i.closed:
			if payload, ok := i.TryPop(); ok {
				return payload, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			if payload, ok := i.TryPop(); ok {
				return payload, nil
			}
			return nil, popErr(ctx.Err())
		}
	}
}

func popErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNoData
	}
	return err
}

func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.items)
}

// Close wakes blocked consumers. Buffered payloads stay poppable.
func (i *Inbox) Close() {
	i.close.Do(func() {
		close(i.closed)
	})
}
