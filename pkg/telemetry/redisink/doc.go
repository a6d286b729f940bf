// Package redisink publishes pacing statistics to a Redis hash so that
// dashboards and other processes can read the achieved frame rate.
//
// Wire a Sink into a controller's callbacks:
//
//	sink, err := redisink.New(redisink.Config{
//		Client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//		Key:    "gopace:stats",
//	})
//	if err != nil {
//		return err
//	}
//	defer func() { <-sink.Close() }()
//
//	ctrl, err := timestep.New(timestep.Config{
//		Scheduler: loop,
//		OnUpdate:  sink.ObserveUpdate,
//		OnRender: func(ev timestep.RenderEvent) {
//			draw(ev)
//			sink.ObserveRender(ev)
//		},
//	})
//
// Each snapshot is an HSET of current_fps, average_fps, frame, index,
// offset, duration_ms, updated_at (Unix milliseconds) and updates, followed
// by an EXPIRE of the key. A token bucket admits at most one snapshot per
// MinInterval, and SetMinInterval adjusts it at run time. Writes run on a
// worker pool; when the pool is busy the snapshot is dropped rather than
// delaying the pacing loop.
package redisink
