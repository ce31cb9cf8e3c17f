package session

import (
	"time"

	"github.com/danmuck/linkctl/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link timing and limits.
type Config struct {
	// Name tags log lines and metrics. Empty is allowed.
	Name string

	// LeaveTimeout bounds the Leave write in Disconnect.
	LeaveTimeout time.Duration

	// AckTimeout bounds the Ack the receiver writes after a Join.
	AckTimeout time.Duration

	// Limits of zero take the default; a negative MaxPayloadBytes disables the cap.
	Limits frame.Limits

	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		LeaveTimeout: 500 * time.Millisecond,
		AckTimeout:   500 * time.Millisecond,
		Limits:       frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = def.LeaveTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
