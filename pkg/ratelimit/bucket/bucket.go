// Package bucket provides a token bucket limiter used to bound how often
// pacing side effects, such as publishing a statistics snapshot, may run.
package bucket

import (
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/gopace/pkg/clock"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
)

// Limit is the number of events allowed per second. A zero Limit allows
// no events beyond the initial burst. Use Inf for no limit.
type Limit float64

// Inf is the infinite rate limit; it allows all events.
var Inf = Limit(math.Inf(1))

// Every converts a minimum interval between events to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter reports whether events may happen now. It never blocks.
type Limiter interface {
	// Allow reports whether one event may happen now.
	Allow() bool

	// AllowN reports whether n events may happen now.
	AllowN(n int) bool

	// SetLimit changes the refill rate, keeping the tokens earned so far.
	SetLimit(limit Limit)

	// Limit returns the current refill rate.
	Limit() Limit

	// Burst returns the bucket capacity.
	Burst() int

	// Tokens returns the number of tokens currently available.
	Tokens() float64
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Rate is the number of tokens added per second.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock provides the current time. If nil, clock.System is used.
	Clock clock.Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, the bucket starts full.
	InitialTokens int
}

type tokenBucket struct {
	mu         sync.Mutex
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      clock.Clock
}

// New creates a full bucket refilled at rate up to burst tokens.
func New(rate Limit, burst int) (Limiter, error) {
	return NewWithConfig(Config{Rate: rate, Burst: burst, InitialTokens: -1})
}

// NewWithConfig creates a Limiter from cfg.
func NewWithConfig(cfg Config) (Limiter, error) {
	if cfg.Rate < 0 || math.IsNaN(float64(cfg.Rate)) {
		return nil, gperrors.NewValidationError("bucket", "rate", cfg.Rate, "rate cannot be negative").
			WithHint("use 0 for no refill or Inf for no limit")
	}
	if cfg.Burst <= 0 {
		return nil, gperrors.NewValidationError("bucket", "burst", cfg.Burst, "burst must be positive").
			WithHint("burst determines how many tokens can be consumed instantly")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	tokens := float64(cfg.InitialTokens)
	if cfg.InitialTokens < 0 || cfg.InitialTokens > cfg.Burst {
		tokens = float64(cfg.Burst)
	}

	return &tokenBucket{
		limit:      cfg.Rate,
		burst:      cfg.Burst,
		tokens:     tokens,
		lastUpdate: cfg.Clock.Now(),
		clock:      cfg.Clock,
	}, nil
}

func (tb *tokenBucket) Allow() bool {
	return tb.AllowN(1)
}

func (tb *tokenBucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	if n > tb.burst || tb.tokens < float64(n) {
		return false
	}
	tb.tokens -= float64(n)
	return true
}

func (tb *tokenBucket) SetLimit(limit Limit) {
	if limit < 0 || math.IsNaN(float64(limit)) {
		return
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	tb.limit = limit
}

func (tb *tokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limit
}

func (tb *tokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.clock.Now())
	return tb.tokens
}

// refill adds the tokens earned since the last update. The product is
// taken in nanoseconds so that whole intervals yield whole tokens.
func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.lastUpdate = now

	switch {
	case tb.limit == Inf:
		tb.tokens = float64(tb.burst)
	case tb.limit > 0:
		earned := float64(elapsed) * float64(tb.limit) / float64(time.Second)
		tb.tokens = math.Min(tb.tokens+earned, float64(tb.burst))
	}
}
