package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/gopace/internal/testutil"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
)

const sample = `
fps: 60
throttle_delay: 2ms
window_size: 12
metrics: {enabled: true, addr: ":9200"}
redis: {addr: "localhost:6379", key: "pacer:stats", ttl: 30s, min_interval: 100ms}
schedule:
  - {id: night, cron: "0 0 22 * * *", fps: 15}
  - {id: day,   cron: "0 0 7 * * *",  fps: 60}
log: {level: debug, format: json}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.FPS, 60.0)
	testutil.AssertEqual(t, cfg.ThrottleDelay, 2*time.Millisecond)
	testutil.AssertEqual(t, cfg.WindowSize, 12)
	testutil.AssertEqual(t, cfg.Metrics.Enabled, true)
	testutil.AssertEqual(t, cfg.Metrics.Addr, ":9200")
	testutil.AssertEqual(t, cfg.Redis.Addr, "localhost:6379")
	testutil.AssertEqual(t, cfg.Redis.Key, "pacer:stats")
	testutil.AssertEqual(t, cfg.Redis.TTL, 30*time.Second)
	testutil.AssertEqual(t, cfg.Redis.MinInterval, 100*time.Millisecond)
	testutil.AssertEqual(t, len(cfg.Schedule), 2)
	testutil.AssertEqual(t, cfg.Schedule[0], ScheduleEntry{ID: "night", Cron: "0 0 22 * * *", FPS: 15})
	testutil.AssertEqual(t, cfg.Log.Level, "debug")
	testutil.AssertEqual(t, cfg.Log.Format, "json")
}

func TestParse_DefaultsForMissingFields(t *testing.T) {
	cfg, err := Parse([]byte("fps: 48\n"))
	testutil.AssertNoError(t, err)

	def := Default()
	testutil.AssertEqual(t, cfg.FPS, 48.0)
	testutil.AssertEqual(t, cfg.ThrottleDelay, def.ThrottleDelay)
	testutil.AssertEqual(t, cfg.Redis, def.Redis)
	testutil.AssertEqual(t, cfg.Log, def.Log)

	empty, err := Parse(nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, empty.FPS, def.FPS)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		validation bool
	}{
		{"unknown key", "fpss: 30\n", false},
		{"bad duration", "throttle_delay: soon\n", false},
		{"zero fps", "fps: 0\n", true},
		{"negative window", "window_size: -1\n", true},
		{"negative ttl", "redis: {ttl: -1s}\n", true},
		{"redis without key", "redis: {addr: 'x:1', key: ''}\n", true},
		{"metrics without addr", "metrics: {enabled: true, addr: ''}\n", true},
		{"schedule without id", "schedule: [{cron: '@hourly', fps: 30}]\n", true},
		{"schedule duplicate id", "schedule: [{id: a, cron: '@hourly', fps: 30}, {id: a, cron: '@daily', fps: 30}]\n", true},
		{"schedule zero fps", "schedule: [{id: a, cron: '@hourly', fps: 0}]\n", true},
		{"bad level", "log: {level: loud}\n", true},
		{"bad format", "log: {format: xml}\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			testutil.AssertError(t, err)
			testutil.AssertEqual(t, gperrors.IsValidationError(err), tt.validation)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

// writeFile replaces path atomically, the way most editors save, so the
// watcher never reads a half-written file.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	testutil.AssertNoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	testutil.AssertNoError(t, os.Rename(tmp, path))
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pacer.yaml")
	writeFile(t, path, "fps: 30\n")

	var mu sync.Mutex
	var seen []float64
	onChange := func(cfg *Config) {
		mu.Lock()
		seen = append(seen, cfg.FPS)
		mu.Unlock()
	}
	last := func() float64 {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return 0
		}
		return seen[len(seen)-1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, path, onChange, nil) }()

	// Writes before the watcher is registered are missed; keep writing
	// until one is observed.
	testutil.Eventually(t, func() bool {
		writeFile(t, path, "fps: 60\n")
		return last() == 60
	}, 2*time.Second, 20*time.Millisecond)

	// An invalid file is skipped.
	writeFile(t, path, "fps: -1\n")
	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, last(), 60.0)

	// Other files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.yaml"), "fps: 90\n")
	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, last(), 60.0)

	testutil.Eventually(t, func() bool {
		writeFile(t, path, "fps: 24\n")
		return last() == 24
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	testutil.AssertNoError(t, <-errc)
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "pacer.yaml"), func(*Config) {}, nil)
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "watch") {
		t.Fatalf("unexpected error %v", err)
	}
}
