package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/vnykmshr/gopace/pkg/pacing/timestep"
)

// report logs the achieved rate and the process CPU usage every interval
// until ctx is done.
func report(ctx context.Context, ctrl *timestep.Controller, interval time.Duration, logger zerolog.Logger) {
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("cpu usage unavailable")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastFrame uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := ctrl.Stats()
		ev := logger.Info().
			Float64("target_fps", st.TargetFPS).
			Float64("average_fps", st.AverageFPS).
			Uint64("frames", st.CurrentFrame-lastFrame).
			Uint64("frame", st.CurrentFrame)
		lastFrame = st.CurrentFrame

		if self != nil {
			// Zero interval compares against the previous call.
			if cpu, err := self.PercentWithContext(ctx, 0); err == nil {
				ev = ev.Float64("cpu_percent", cpu)
			}
		}
		ev.Msg("pacing")
	}
}
