package session

import "errors"

var (
	ErrNotConnected = errors.New("session: not connected")
	ErrNoData       = errors.New("session: no data")
	ErrShortWrite   = errors.New("session: short write")
	ErrLeaving      = errors.New("session: leave in progress")
	ErrClosed       = errors.New("session: closed")
)
