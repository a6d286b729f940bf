// Command pacer runs a timestep controller on an event loop and reports
// the achieved frame rate through logs, Prometheus and, optionally, Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/gopace/internal/config"
	"github.com/vnykmshr/gopace/pkg/metrics"
	"github.com/vnykmshr/gopace/pkg/pacing/ratesched"
	"github.com/vnykmshr/gopace/pkg/pacing/timestep"
	"github.com/vnykmshr/gopace/pkg/scheduling/eventloop"
	"github.com/vnykmshr/gopace/pkg/scheduling/workerpool"
	"github.com/vnykmshr/gopace/pkg/telemetry/redisink"
)

const reportInterval = time.Second

func main() {
	opt, err := parseOptions(os.Args[1:])
	if err != nil {
		if isHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := resolveConfig(opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pacer:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	if err := run(opt, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("pacer failed")
		os.Exit(1)
	}
}

func run(opt *options, cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opt.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opt.Duration)
		defer stop()
	}

	metricsCfg := metrics.Config{}
	var server *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metricsCfg = metrics.Config{Enabled: true, Registry: reg}
		server = serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	loop := eventloop.New(eventloop.Config{Logger: &logger})

	sink, closeSink, err := newSink(ctx, cfg, metricsCfg, logger)
	if err != nil {
		return err
	}

	ctrl, err := timestep.NewWithMetrics(timestep.Config{
		FPS:           cfg.FPS,
		ThrottleDelay: cfg.ThrottleDelay,
		WindowSize:    cfg.WindowSize,
		Scheduler:     loop,
		Logger:        &logger,
		OnUpdate: func(ev timestep.UpdateEvent) {
			if sink != nil {
				sink.ObserveUpdate(ev)
			}
		},
		OnRender: func(ev timestep.RenderEvent) {
			logger.Trace().
				Uint64("frame", ev.CurrentFrame).
				Float64("fps", ev.CurrentFPS).
				Float64("offset", ev.Offset).
				Msg("render")
			if sink != nil {
				sink.ObserveRender(ev)
			}
		},
	}, "pacer", metricsCfg)
	if err != nil {
		return err
	}

	sched, err := ratesched.New(ratesched.Config{Target: ctrl, Logger: &logger})
	if err != nil {
		return err
	}
	if err := sched.EnableMetrics(metricsCfg); err != nil {
		return err
	}
	if err := applySchedule(sched, cfg.Schedule); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if opt.Config != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, opt.Config, reloadHandler(opt, ctrl, sched, sink, logger), &logger)
			if err != nil {
				logger.Warn().Err(err).Msg("config hot reload disabled")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		report(ctx, ctrl, reportInterval, logger)
	}()

	logger.Info().
		Float64("target_fps", ctrl.TargetFPS()).
		Dur("interval", ctrl.Interval()).
		Int("scheduled_changes", len(sched.List())).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("redis", sink != nil).
		Msg("pacer started")

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// The loop goroutine has returned, so stopping the controller here
	// cannot race a tick.
	ctrl.Stop()
	cancel()
	<-sched.Stop()
	wg.Wait()

	if sink != nil {
		closeSink()
		logger.Info().Uint64("errors", sink.Errors()).Uint64("dropped", sink.Dropped()).Msg("redis sink closed")
	}
	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}

	st := ctrl.Stats()
	logger.Info().
		Uint64("frames", st.CurrentFrame).
		Uint64("ticks", st.CurrentIndex).
		Float64("average_fps", st.AverageFPS).
		Msg("pacer stopped")
	return nil
}

// applySchedule replaces every scheduled rate change with entries.
func applySchedule(sched *ratesched.Scheduler, entries []config.ScheduleEntry) error {
	sched.CancelAll()
	for _, e := range entries {
		if err := sched.Cron(e.ID, e.Cron, e.FPS); err != nil {
			return fmt.Errorf("schedule %q: %w", e.ID, err)
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return server
}

// reloadHandler applies a reloaded config file. A rate given with --fps
// stays in force; only the schedule may change it afterwards.
func reloadHandler(opt *options, target ratesched.Target, sched *ratesched.Scheduler, sink *redisink.Sink, logger zerolog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		if opt.FPS != 0 {
			logger.Info().
				Float64("file_fps", next.FPS).
				Float64("flag_fps", opt.FPS).
				Msg("config reloaded, keeping --fps")
		} else {
			target.UpdateFPS(next.FPS)
		}
		if sink != nil {
			sink.SetMinInterval(next.Redis.MinInterval)
		}
		if err := applySchedule(sched, next.Schedule); err != nil {
			logger.Warn().Err(err).Msg("schedule reload failed")
		}
	}
}

// newSink connects the Redis statistics sink when an address is
// configured. An unreachable server is reported but not fatal; failed
// writes are counted by the sink. The returned func drains pending writes
// and closes the client.
func newSink(ctx context.Context, cfg *config.Config, metricsCfg metrics.Config, logger zerolog.Logger) (*redisink.Sink, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Redis.Addr}})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, snapshots will fail until it is")
	}

	pool, err := workerpool.NewWithConfigAndMetrics(workerpool.Config{
		WorkerCount: 1,
		QueueSize:   4,
		Logger:      &logger,
	}, "redisink", metricsCfg)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	sink, err := redisink.New(redisink.Config{
		Client:      client,
		Key:         cfg.Redis.Key,
		TTL:         cfg.Redis.TTL,
		MinInterval: cfg.Redis.MinInterval,
		Pool:        pool,
		Logger:      &logger,
	})
	if err == nil {
		err = sink.EnableMetrics(metricsCfg)
	}
	if err != nil {
		<-pool.Shutdown()
		_ = client.Close()
		return nil, nil, err
	}

	return sink, func() {
		<-sink.Close()
		<-pool.Shutdown()
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis client close")
		}
	}, nil
}
