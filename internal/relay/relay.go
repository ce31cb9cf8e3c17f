// Package relay bridges a link to a message bus.
//
// Payloads received on the link are published to the uplink subject.
// Messages arriving on the downlink subject are queued and sent over the
// link. An optional presence store keeps a TTL'd record of the link state.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

var ErrInvalidConfig = errors.New("relay: invalid config")

// Link is the part of session.Link the relay drives.
type Link interface {
	State() session.State
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber delivers messages for one subject. Handler calls for a single
// subscription must not overlap.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

// PresenceStore records the link state under key until ttl passes.
type PresenceStore interface {
	SetState(ctx context.Context, key, state string, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

type Config struct {
	Node            string
	UplinkSubject   string
	DownlinkSubject string
	PresenceKey     string
	PresenceTTL     time.Duration
	// DownlinkDepth is rounded up to a power of two.
	DownlinkDepth int
	IdlePoll      time.Duration
	SendTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		UplinkSubject:   "linkctl.uplink",
		DownlinkSubject: "linkctl.downlink",
		PresenceTTL:     30 * time.Second,
		DownlinkDepth:   256,
		IdlePoll:        250 * time.Millisecond,
		SendTimeout:     2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = def.PresenceTTL
	}
	if c.DownlinkDepth <= 0 {
		c.DownlinkDepth = def.DownlinkDepth
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = def.IdlePoll
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if strings.TrimSpace(c.PresenceKey) == "" {
		c.PresenceKey = "linkctl:presence:" + c.Node
	}
	c.DownlinkDepth = ceilPow2(c.DownlinkDepth)
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.UplinkSubject) == "" {
		return fmt.Errorf("%w: missing uplink subject", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DownlinkSubject) == "" {
		return fmt.Errorf("%w: missing downlink subject", ErrInvalidConfig)
	}
	if c.UplinkSubject == c.DownlinkSubject {
		return fmt.Errorf("%w: uplink and downlink subjects must differ", ErrInvalidConfig)
	}
	return nil
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

type Stats struct {
	Uplinked   uint64 `json:"uplinked"`
	Downlinked uint64 `json:"downlinked"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
}

type Relay struct {
	cfg      Config
	link     Link
	pub      Publisher
	sub      Subscriber
	presence PresenceStore
	log      zerolog.Logger

	// queue has one producer (the subscription handler) and one consumer
	// (the downlink loop).
	queue lfq.SPSC[[]byte]
	wake  chan struct{}

	uplinked   atomix.Uint64
	downlinked atomix.Uint64
	dropped    atomix.Uint64
	failed     atomix.Uint64
}

// New builds a relay. presence may be nil.
func New(cfg Config, link Link, pub Publisher, sub Subscriber, presence PresenceStore) (*Relay, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if link == nil || pub == nil || sub == nil {
		return nil, fmt.Errorf("%w: link, publisher and subscriber are required", ErrInvalidConfig)
	}
	r := &Relay{
		cfg:      cfg,
		link:     link,
		pub:      pub,
		sub:      sub,
		presence: presence,
		log:      logging.Component("relay").With().Str("node", cfg.Node).Logger(),
		wake:     make(chan struct{}, 1),
	}
	r.queue.Init(cfg.DownlinkDepth)
	observability.RegisterMetrics()
	return r, nil
}

func (r *Relay) Stats() Stats {
	return Stats{
		Uplinked:   r.uplinked.Load(),
		Downlinked: r.downlinked.Load(),
		Dropped:    r.dropped.Load(),
		Failed:     r.failed.Load(),
	}
}

// Run blocks until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.sub.Subscribe(r.cfg.DownlinkSubject, r.enqueue)
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.cfg.DownlinkSubject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Warn().Err(err).Msg("relay.Relay.Run unsubscribe failed")
		}
	}()
	r.log.Info().
		Str("uplink", r.cfg.UplinkSubject).
		Str("downlink", r.cfg.DownlinkSubject).
		Msg("relay.Relay.Run started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.uplink(ctx)
	}()
	go func() {
		defer wg.Done()
		r.downlink(ctx)
	}()
	go func() {
		defer wg.Done()
		r.keepPresence(ctx)
	}()
	wg.Wait()
	r.log.Info().Msg("relay.Relay.Run stopped")
	return nil
}

func (r *Relay) idle(ctx context.Context) {
	t := time.NewTimer(r.cfg.IdlePoll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Relay) uplink(ctx context.Context) {
	for ctx.Err() == nil {
		if r.link.State() != session.StateConnected {
			r.idle(ctx)
			continue
		}
		recvCtx, cancel := context.WithTimeout(ctx, r.cfg.IdlePoll)
		payload, err := r.link.Recv(recvCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, session.ErrClosed):
			return
		case errors.Is(err, session.ErrNotConnected):
			r.idle(ctx)
			continue
		default:
			// ErrNoData or ctx ending
			continue
		}

		start := time.Now()
		if err := r.pub.Publish(r.cfg.UplinkSubject, payload); err != nil {
			r.failed.Add(1)
			observability.RecordRelay(r.cfg.Node, "uplink", "error", 0)
			r.log.Warn().Err(err).Msg("relay.Relay.uplink publish failed")
			continue
		}
		r.uplinked.Add(1)
		observability.RecordRelay(r.cfg.Node, "uplink", "ok", time.Since(start))
	}
}

func (r *Relay) enqueue(data []byte) {
	payload := data
	if err := r.queue.Enqueue(&payload); err != nil {
		r.dropped.Add(1)
		observability.RecordRelay(r.cfg.Node, "downlink", "dropped", 0)
		if !iox.IsWouldBlock(err) {
			r.log.Warn().Err(err).Msg("relay.Relay.enqueue failed")
		}
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) downlink(ctx context.Context) {
	for {
		payload, err := r.queue.Dequeue()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		err = r.link.Send(sendCtx, payload)
		cancel()
		if err != nil {
			r.failed.Add(1)
			observability.RecordRelay(r.cfg.Node, "downlink", "error", 0)
			r.log.Debug().Err(err).Int("bytes", len(payload)).Msg("relay.Relay.downlink send failed")
			continue
		}
		r.downlinked.Add(1)
		observability.RecordRelay(r.cfg.Node, "downlink", "ok", time.Since(start))
	}
}

// keepPresence refreshes the record at half the TTL and clears it on exit.
func (r *Relay) keepPresence(ctx context.Context) {
	if r.presence == nil {
		return
	}
	publish := func() {
		setCtx, cancel := context.WithTimeout(ctx, r.cfg.PresenceTTL/2)
		defer cancel()
		state := r.link.State().String()
		if err := r.presence.SetState(setCtx, r.cfg.PresenceKey, state, r.cfg.PresenceTTL); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("relay.Relay.keepPresence set failed")
		}
	}

	publish()
	ticker := time.NewTicker(r.cfg.PresenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			clearCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.presence.Clear(clearCtx, r.cfg.PresenceKey); err != nil {
				r.log.Warn().Err(err).Msg("relay.Relay.keepPresence clear failed")
			}
			cancel()
			return
		case <-ticker.C:
			publish()
		}
	}
}
