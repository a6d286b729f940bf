package ratesched

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/gopace/pkg/clock"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/common/validation"
	"github.com/vnykmshr/gopace/pkg/metrics"
)

const (
	// DefaultTickInterval is how often due changes are checked.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultMaxChanges caps the number of scheduled changes.
	DefaultMaxChanges = 1000

	maxIDLength = 255
)

// ErrDuplicateID is returned when scheduling a change under an id that is
// already in use.
var ErrDuplicateID = errors.New("ratesched: change id already exists")

// Target receives target-rate changes. *timestep.Controller satisfies it.
type Target interface {
	UpdateFPS(fps float64)
}

// Change describes a scheduled rate change.
type Change struct {
	ID      string
	FPS     float64
	RunAt   time.Time
	Cron    string // empty for one-shot changes
	Created time.Time
}

// Config holds scheduler configuration.
type Config struct {
	// Target receives the changes. Required.
	Target Target

	// Name labels log lines and metrics. Defaults to "ratesched".
	Name string

	// Location is used to evaluate cron expressions. Defaults to time.Local.
	Location *time.Location

	// TickInterval is how often due changes are applied. Defaults to
	// DefaultTickInterval.
	TickInterval time.Duration

	// MaxChanges caps the number of scheduled changes. Defaults to
	// DefaultMaxChanges.
	MaxChanges int

	// Logger receives applied changes. If nil, nothing is logged.
	Logger *zerolog.Logger

	// Clock provides the current time. If nil, clock.System is used.
	Clock clock.Clock
}

type scheduledChange struct {
	id       string
	fps      float64
	runAt    time.Time
	cronExpr string
	schedule cron.Schedule
	created  time.Time
}

// Scheduler applies target-rate changes at fixed times, after delays or on
// cron schedules.
type Scheduler struct {
	target       Target
	name         string
	location     *time.Location
	tickInterval time.Duration
	maxChanges   int
	logger       zerolog.Logger
	clock        clock.Clock
	cronParser   cron.Parser
	registry     atomic.Pointer[metrics.Registry]

	mu      sync.RWMutex
	changes map[string]*scheduledChange
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// New creates a Scheduler. It does not apply anything until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if err := validation.ValidateNotNil("ratesched", "target", cfg.Target); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "ratesched"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxChanges <= 0 {
		cfg.MaxChanges = DefaultMaxChanges
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("ratesched", cfg.Name).Logger()
	}

	stopped := make(chan struct{})
	close(stopped)

	return &Scheduler{
		target:       cfg.Target,
		name:         cfg.Name,
		location:     cfg.Location,
		tickInterval: cfg.TickInterval,
		maxChanges:   cfg.MaxChanges,
		logger:       logger,
		clock:        cfg.Clock,
		cronParser:   cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		changes:      make(map[string]*scheduledChange),
		stopped:      stopped,
	}, nil
}

func validateChange(id string, fps float64) error {
	if err := validation.ValidateNotEmpty("ratesched", "id", id); err != nil {
		return err
	}
	if len(id) > maxIDLength {
		return gperrors.NewValidationError("ratesched", "id", len(id), "too long").
			WithHint(fmt.Sprintf("use at most %d characters", maxIDLength))
	}
	return validation.ValidatePositiveFloat("ratesched", "fps", fps)
}

// add stores c unless its id is taken or the scheduler is full.
// Callers hold no lock.
func (s *Scheduler) add(c *scheduledChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changes[c.id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, c.id)
	}
	if len(s.changes) >= s.maxChanges {
		return fmt.Errorf("ratesched: %d changes scheduled: %w", s.maxChanges, gperrors.ErrCapacityExceeded)
	}
	s.changes[c.id] = c
	return nil
}

// At schedules a one-shot change to fps at runAt.
func (s *Scheduler) At(id string, fps float64, runAt time.Time) error {
	if err := validateChange(id, fps); err != nil {
		return err
	}
	if runAt.IsZero() {
		return gperrors.NewValidationError("ratesched", "run_at", runAt, "cannot be zero")
	}
	return s.add(&scheduledChange{
		id:      id,
		fps:     fps,
		runAt:   runAt,
		created: s.clock.Now(),
	})
}

// After schedules a one-shot change to fps once delay has elapsed.
func (s *Scheduler) After(id string, fps float64, delay time.Duration) error {
	if err := validation.ValidateNonNegativeDuration("ratesched", "delay", delay); err != nil {
		return err
	}
	return s.At(id, fps, s.clock.Now().Add(delay))
}

// Cron schedules a recurring change to fps. Expressions have six fields,
// seconds first, and descriptors such as "@hourly" are accepted.
func (s *Scheduler) Cron(id, expr string, fps float64) error {
	if err := validateChange(id, fps); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty("ratesched", "cron", expr); err != nil {
		return err
	}

	schedule, err := s.cronParser.Parse(expr)
	if err != nil {
		return gperrors.NewValidationError("ratesched", "cron", expr, err.Error()).
			WithHint("use six fields: second minute hour day-of-month month day-of-week")
	}

	now := s.clock.Now()
	return s.add(&scheduledChange{
		id:       id,
		fps:      fps,
		runAt:    schedule.Next(now.In(s.location)),
		cronExpr: expr,
		schedule: schedule,
		created:  now,
	})
}

// Cancel removes a scheduled change and reports whether it existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changes[id]; exists {
		delete(s.changes, id)
		return true
	}
	return false
}

// CancelAll removes every scheduled change.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changes = make(map[string]*scheduledChange)
}

// List returns the scheduled changes ordered by next run time.
func (s *Scheduler) List() []Change {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Change, 0, len(s.changes))
	for _, c := range s.changes {
		out = append(out, Change{
			ID:      c.id,
			FPS:     c.fps,
			RunAt:   c.runAt,
			Cron:    c.cronExpr,
			Created: c.created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	return out
}

// Start begins applying due changes every TickInterval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("ratesched: %w", gperrors.ErrAlreadyRunning)
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(s.done, s.stopped)
	s.logger.Debug().Dur("tick_interval", s.tickInterval).Msg("rate scheduler started")
	return nil
}

// Stop halts the scheduler and returns a channel closed once its
// goroutine has exited. Scheduled changes are kept for a later Start.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.running = false
		close(s.done)
	}
	return s.stopped
}

func (s *Scheduler) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.logger.Debug().Msg("rate scheduler stopped")
			return
		case <-ticker.C:
			s.applyDue(s.clock.Now())
		}
	}
}

// applyDue applies every change due at now in run-time order, so the
// latest due change wins. One-shot changes are removed and cron changes
// move to their next activation.
func (s *Scheduler) applyDue(now time.Time) int {
	s.mu.Lock()
	var due []scheduledChange
	for id, c := range s.changes {
		if c.runAt.After(now) {
			continue
		}
		due = append(due, *c)
		if c.schedule != nil {
			c.runAt = c.schedule.Next(now.In(s.location))
		} else {
			delete(s.changes, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].runAt.Equal(due[j].runAt) {
			return due[i].id < due[j].id
		}
		return due[i].runAt.Before(due[j].runAt)
	})

	for _, c := range due {
		s.apply(c)
	}
	return len(due)
}

func (s *Scheduler) apply(c scheduledChange) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("id", c.id).Interface("panic", r).Msg("target panicked applying rate change")
		}
	}()

	s.target.UpdateFPS(c.fps)
	if reg := s.registry.Load(); reg != nil {
		reg.RateChangesApplied.WithLabelValues(s.name).Inc()
	}
	s.logger.Info().
		Str("id", c.id).
		Float64("target_fps", c.fps).
		Str("cron", c.cronExpr).
		Msg("rate change applied")
}

// EnableMetrics enables metrics collection.
func (s *Scheduler) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		s.DisableMetrics()
		return nil
	}
	s.registry.Store(metrics.Resolve(config))
	return nil
}

// DisableMetrics disables metrics collection.
func (s *Scheduler) DisableMetrics() {
	s.registry.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (s *Scheduler) MetricsEnabled() bool {
	return s.registry.Load() != nil
}

var _ metrics.Instrumentable = (*Scheduler)(nil)
