package redisink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/gopace/pkg/clock"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/common/validation"
	"github.com/vnykmshr/gopace/pkg/metrics"
	"github.com/vnykmshr/gopace/pkg/pacing/timestep"
	"github.com/vnykmshr/gopace/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gopace/pkg/scheduling/workerpool"
)

const (
	// DefaultTTL is how long a snapshot outlives its last write.
	DefaultTTL = time.Minute

	// DefaultMinInterval is the minimum time between snapshot writes.
	DefaultMinInterval = 250 * time.Millisecond

	// DefaultWriteTimeout bounds a single snapshot write.
	DefaultWriteTimeout = time.Second

	// ownedQueueSize is small on purpose: a stale snapshot is worth
	// nothing once a newer one exists.
	ownedQueueSize = 4
)

// Publisher is the subset of the go-redis client used by the sink.
// redis.UniversalClient satisfies it.
type Publisher interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Config holds sink configuration.
type Config struct {
	// Client writes the snapshots. Required.
	Client Publisher

	// Key is the Redis hash holding the latest snapshot. Required.
	Key string

	// Name labels log lines and metrics. Defaults to "redis".
	Name string

	// TTL is applied to Key after each write. Defaults to DefaultTTL.
	TTL time.Duration

	// MinInterval throttles writes. Defaults to DefaultMinInterval.
	MinInterval time.Duration

	// WriteTimeout bounds each write. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Pool runs the writes. If nil, the sink owns a single-worker pool
	// that Close shuts down.
	Pool workerpool.Pool

	// Logger receives write failures. If nil, nothing is logged.
	Logger *zerolog.Logger

	// Clock provides the current time. If nil, clock.System is used.
	Clock clock.Clock
}

// Sink publishes the latest pacing statistics to a Redis hash. Observe
// methods never block: writes run on a worker pool and are dropped when
// the pool is saturated.
type Sink struct {
	client       Publisher
	key          string
	name         string
	ttl          time.Duration
	limiter      bucket.Limiter
	writeTimeout time.Duration
	pool         workerpool.Pool
	ownPool      bool
	logger       zerolog.Logger
	clock        clock.Clock

	updates  atomic.Uint64
	errors   atomic.Uint64
	dropped  atomic.Uint64
	closed   atomic.Bool
	registry atomic.Pointer[metrics.Registry]
}

// New creates a Sink.
func New(cfg Config) (*Sink, error) {
	if err := validation.ValidateNotNil("redisink", "client", cfg.Client); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty("redisink", "key", cfg.Key); err != nil {
		return nil, err
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"ttl", cfg.TTL},
		{"min_interval", cfg.MinInterval},
		{"write_timeout", cfg.WriteTimeout},
	} {
		if err := validation.ValidateNonNegativeDuration("redisink", d.field, d.value); err != nil {
			return nil, err
		}
	}

	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("sink", cfg.Name).Str("key", cfg.Key).Logger()
	}

	limiter, err := bucket.NewWithConfig(bucket.Config{
		Rate:          bucket.Every(cfg.MinInterval),
		Burst:         1,
		Clock:         cfg.Clock,
		InitialTokens: -1,
	})
	if err != nil {
		return nil, err
	}

	s := &Sink{
		client:       cfg.Client,
		key:          cfg.Key,
		name:         cfg.Name,
		ttl:          cfg.TTL,
		limiter:      limiter,
		writeTimeout: cfg.WriteTimeout,
		pool:         cfg.Pool,
		logger:       logger,
		clock:        cfg.Clock,
	}
	if s.pool == nil {
		pool, err := workerpool.NewWithConfig(workerpool.Config{
			WorkerCount: 1,
			QueueSize:   ownedQueueSize,
			Logger:      cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.ownPool = true
	}
	return s, nil
}

// ObserveUpdate counts an update; the total is written with the next
// snapshot.
func (s *Sink) ObserveUpdate(timestep.UpdateEvent) {
	s.updates.Add(1)
}

// ObserveRender queues a snapshot write unless one was queued less than
// MinInterval ago.
func (s *Sink) ObserveRender(ev timestep.RenderEvent) {
	if s.closed.Load() {
		return
	}

	if !s.limiter.Allow() {
		return
	}
	now := s.clock.Now()

	fields := map[string]interface{}{
		"current_fps": ev.CurrentFPS,
		"average_fps": ev.AverageFPS,
		"frame":       ev.CurrentFrame,
		"index":       ev.CurrentIndex,
		"offset":      ev.Offset,
		"duration_ms": ev.DurationMillis(),
		"updated_at":  now.UnixMilli(),
		"updates":     s.updates.Load(),
	}

	err := s.pool.TrySubmit(workerpool.TaskFunc(func(ctx context.Context) error {
		return s.write(ctx, fields)
	}))
	if err != nil {
		s.dropped.Add(1)
		if reg := s.registry.Load(); reg != nil {
			reg.SinkDropped.WithLabelValues(s.name).Inc()
		}
		s.logger.Debug().Err(err).Uint64("frame", ev.CurrentFrame).Msg("snapshot dropped")
	}
}

func (s *Sink) write(ctx context.Context, fields map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	err := s.client.HSet(ctx, s.key, fields).Err()
	if err == nil {
		err = s.client.Expire(ctx, s.key, s.ttl).Err()
	}

	reg := s.registry.Load()
	if err != nil {
		s.errors.Add(1)
		if reg != nil {
			reg.SinkErrors.WithLabelValues(s.name).Inc()
		}
		opErr := gperrors.NewOperationError("redisink", "write", err).WithContext("key=" + s.key)
		s.logger.Warn().Err(opErr).Msg("snapshot write failed")
		return opErr
	}
	if reg != nil {
		reg.SinkWrites.WithLabelValues(s.name).Inc()
	}
	return nil
}

// SetMinInterval changes the write throttle. Non-positive values are
// ignored.
func (s *Sink) SetMinInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.limiter.SetLimit(bucket.Every(d))
}

// Errors returns the number of failed writes.
func (s *Sink) Errors() uint64 {
	return s.errors.Load()
}

// Dropped returns the number of snapshots skipped because the pool was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting snapshots. The returned channel closes once an
// owned pool has finished its queued writes; a shared pool is left to its
// owner.
func (s *Sink) Close() <-chan struct{} {
	s.closed.Store(true)
	if s.ownPool {
		return s.pool.Shutdown()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// EnableMetrics enables metrics collection.
func (s *Sink) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		s.DisableMetrics()
		return nil
	}
	s.registry.Store(metrics.Resolve(config))
	return nil
}

// DisableMetrics disables metrics collection.
func (s *Sink) DisableMetrics() {
	s.registry.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (s *Sink) MetricsEnabled() bool {
	return s.registry.Load() != nil
}

var _ metrics.Instrumentable = (*Sink)(nil)
