// Package ratesched changes a pacing target rate on a schedule.
//
// Changes are one-shot (At, After) or recurring (Cron, six-field
// expressions with seconds first, evaluated in Config.Location). A
// background goroutine checks every TickInterval and applies due changes
// in run-time order, so when several are due at once the latest one wins.
//
//	sched, err := ratesched.New(ratesched.Config{Target: ctrl})
//	if err != nil {
//		return err
//	}
//	_ = sched.Cron("night", "0 0 22 * * *", 15)
//	_ = sched.Cron("day", "0 0 7 * * *", 60)
//	_ = sched.Start()
//	defer func() { <-sched.Stop() }()
//
// Any type with an UpdateFPS(float64) method can be a Target;
// *timestep.Controller is the usual one and is safe to update from the
// scheduler goroutine.
package ratesched
