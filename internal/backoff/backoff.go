package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config controls the reconnection delay curve.
type Config struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Factor      float64       `yaml:"factor"`
	JitterRatio float64       `yaml:"jitter"`
}

// DefaultConfig returns the delay curve used by the transport when no
// explicit configuration is supplied.
func DefaultConfig() Config {
	return Config{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Factor:      2,
		JitterRatio: 0.2,
	}
}

func (c Config) normalized() Config {
	if c.Initial < 0 {
		c.Initial = 0
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Factor < 1 || math.IsNaN(c.Factor) {
		c.Factor = 1
	}
	if c.JitterRatio < 0 || math.IsNaN(c.JitterRatio) {
		c.JitterRatio = 0
	}
	if c.JitterRatio > 1 {
		c.JitterRatio = 1
	}
	return c
}

// Strategy produces exponentially growing, capped and optionally jittered
// delays. The zero value is not usable; construct with New.
type Strategy struct {
	mu      sync.Mutex
	cfg     Config
	attempt int
	rng     *rand.Rand
}

// New constructs a strategy. A nil rng seeds a private source from the wall
// clock; pass a seeded source for deterministic sequences.
func New(cfg Config, rng *rand.Rand) *Strategy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Strategy{cfg: cfg.normalized(), rng: rng}
}

// Reset clears the attempt counter so the next delay is the initial one.
func (s *Strategy) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}

// Attempt reports how many delays have been handed out since the last reset.
func (s *Strategy) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// NextDelay returns min(initial*factor^attempt, max) widened by the
// configured jitter and advances the attempt counter.
func (s *Strategy) NextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.baseLocked()
	s.attempt++

	if s.cfg.JitterRatio > 0 && delay > 0 {
		spread := delay * s.cfg.JitterRatio
		delay += (s.rng.Float64()*2 - 1) * spread
	}

	max := float64(s.cfg.Max)
	if delay > max {
		delay = max
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// NextDelayMs is NextDelay expressed in whole milliseconds.
func (s *Strategy) NextDelayMs() int64 {
	return s.NextDelay().Milliseconds()
}

func (s *Strategy) baseLocked() float64 {
	max := float64(s.cfg.Max)
	base := float64(s.cfg.Initial) * math.Pow(s.cfg.Factor, float64(s.attempt))
	if math.IsInf(base, 0) || math.IsNaN(base) || base > max {
		return max
	}
	return base
}
