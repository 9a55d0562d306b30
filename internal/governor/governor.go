// Package governor implements the Resource Governor:
// per-producer rate limiting with burst capacity and backoff, plus
// priority-aware preemption over CPU/memory/network capacity pools.
//
// jra3-linear-fuse's go.mod depends on golang.org/x/time/rate for outbound
// rate limiting, which is this package's direct grounding for "admit within
// a fixed window, back off exponentially otherwise" — but
// exposing backoff_level/window_start/is_throttled as first-class,
// inspectable producer state (for §8's governor property and the §6
// end-to-end scenario's literal "backoff_level=1" assertion), which
// rate.Limiter's token-bucket does not expose. The admission loop below is
// therefore hand-rolled against the exact fixed-window semantics below.
// golang.org/x/time/rate.Limiter itself is used in internal/core for
// outbound calls to registered producers, where the inspectable-state
// requirement does not apply.
package governor

import (
	"time"
)

// BackoffStrategy selects how backoff duration grows with repeated
// throttling.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "Exponential"
	BackoffLinear      BackoffStrategy = "Linear"
	BackoffFixed       BackoffStrategy = "Fixed"
)

// Config is the per-producer governor configuration.
type Config struct {
	MaxRequestsPerSecond int
	BurstCapacity        int
	BackoffStrategy      BackoffStrategy
	BaseBackoffMs        int
	MaxRetries           int
}

// DefaultConfig returns the governor's baseline admission policy.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerSecond: 10,
		BurstCapacity:        20,
		BackoffStrategy:      BackoffExponential,
		BaseBackoffMs:        1000,
		MaxRetries:           3,
	}
}

// state is the mutable per-producer admission state.
type state struct {
	requestCount int
	windowStart  time.Time
	backoffLevel int
	lastRequest  time.Time
	isThrottled  bool
}

// Clock abstracts time.Now for deterministic tests, named after the
// clock.Clock idiom used throughout the juju stack in the retrieval pack.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted     bool
	Throttled    bool
	BackoffLevel int
	RetryAfter   time.Duration
}

// Governor admits or throttles requests per producer.
type Governor struct {
	clock      Clock
	configs    map[string]Config
	defaultCfg Config
	states     map[string]*state
}

// New constructs a Governor using the real wall clock.
func New(defaultCfg Config) *Governor {
	return &Governor{
		clock:      realClock{},
		configs:    make(map[string]Config),
		defaultCfg: defaultCfg,
		states:     make(map[string]*state),
	}
}

// WithClock overrides the time source, for tests.
func (g *Governor) WithClock(c Clock) *Governor {
	g.clock = c
	return g
}

// Configure sets a producer-specific configuration, overriding the default.
func (g *Governor) Configure(producer string, cfg Config) {
	g.configs[producer] = cfg
}

func (g *Governor) configFor(producer string) Config {
	if cfg, ok := g.configs[producer]; ok {
		return cfg
	}
	return g.defaultCfg
}

const windowSize = time.Second

// Admit evaluates one request from producer against its rate limit and
// burst capacity, advancing backoff state as needed.
func (g *Governor) Admit(producer string) Decision {
	cfg := g.configFor(producer)
	now := g.clock.Now()

	st, ok := g.states[producer]
	if !ok {
		st = &state{windowStart: now}
		g.states[producer] = st
	}

	if now.Sub(st.windowStart) >= windowSize {
		st.windowStart = now
		st.requestCount = 0
	}

	if st.isThrottled {
		backoff := backoffDuration(cfg, st.backoffLevel)
		elapsed := now.Sub(st.lastRequest)
		if elapsed >= backoff {
			st.isThrottled = false
			if st.backoffLevel > 0 {
				st.backoffLevel--
			}
			st.lastRequest = now
			// falls through to the normal admission check below, using
			// this arrival as the new reference point.
		} else {
			return Decision{Admitted: false, Throttled: true, BackoffLevel: st.backoffLevel, RetryAfter: backoff - elapsed}
		}
	}

	admitted := st.requestCount < cfg.MaxRequestsPerSecond || (st.requestCount < cfg.BurstCapacity && !st.isThrottled)

	if !admitted {
		st.isThrottled = true
		st.backoffLevel++
		st.lastRequest = now
		return Decision{Admitted: false, Throttled: true, BackoffLevel: st.backoffLevel, RetryAfter: backoffDuration(cfg, st.backoffLevel)}
	}

	st.requestCount++
	st.lastRequest = now
	return Decision{Admitted: true, BackoffLevel: st.backoffLevel}
}

func backoffDuration(cfg Config, level int) time.Duration {
	base := time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	if level < 1 {
		level = 1
	}
	switch cfg.BackoffStrategy {
	case BackoffLinear:
		return base * time.Duration(level)
	case BackoffFixed:
		return base
	default: // Exponential
		mult := int64(1)
		for i := 1; i < level; i++ {
			mult *= 2
		}
		return base * time.Duration(mult)
	}
}

// State returns a snapshot of the producer's current admission state, for
// diagnostics and tests asserting end-to-end admission behavior.
func (g *Governor) State(producer string) (requestCount, backoffLevel int, isThrottled bool) {
	st, ok := g.states[producer]
	if !ok {
		return 0, 0, false
	}
	return st.requestCount, st.backoffLevel, st.isThrottled
}
