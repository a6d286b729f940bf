package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the file at path whenever it is written or recreated and
// passes each valid configuration to onChange. Invalid files are logged
// and skipped. The parent directory is watched so that editors that
// replace the file by rename are followed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config), logger *zerolog.Logger) error {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("config", path).Logger()
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	log.Debug().Msg("watching config")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				log.Warn().Err(err).Msg("config reload rejected, keeping previous values")
				continue
			}
			log.Info().Float64("fps", cfg.FPS).Msg("config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("fsnotify error")
		}
	}
}
