package session

import (
	"math"
	"math/rand"
	"time"
)

// joinSchedule spaces Dial's Join resends. Delays grow by Multiplier from
// InitialDelay and never exceed MaxDelay, jitter included.
type joinSchedule struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func newJoinSchedule(cfg BackoffConfig, seed int64) *joinSchedule {
	return &joinSchedule{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// next advances to the following attempt and returns how long to wait for
// the peer's Join before resending.
func (s *joinSchedule) next() time.Duration {
	s.attempt++
	return s.cfg.delay(s.attempt, s.rng)
}

// delay is the wait after attempt n (1-based). Jitter scales the base delay
// by a factor in [0.5, 1.5) and is applied before the cap. A nil rng uses
// the low end.
func (c BackoffConfig) delay(n int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(c.Multiplier, 1)
	d := float64(c.InitialDelay) * math.Pow(mult, float64(max(n, 1)-1))
	if c.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		d *= f
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}
