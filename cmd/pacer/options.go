package main

import (
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/vnykmshr/gopace/internal/config"
)

// options defines command line options.
type options struct {
	Config      string        `short:"c" long:"config" description:"YAML configuration file, reloaded on change"`
	FPS         float64       `short:"f" long:"fps" description:"target frame rate, overrides the config file"`
	Duration    time.Duration `short:"d" long:"duration" description:"stop after this long, 0 runs until interrupted"`
	Verbose     bool          `short:"v" long:"verbose" description:"log at debug level"`
	MetricsAddr string        `long:"metrics-addr" description:"serve Prometheus metrics on this address"`
	RedisAddr   string        `long:"redis-addr" description:"publish frame statistics to this Redis server"`
}

// parseOptions returns parsed command-line flags.
func parseOptions(args []string) (*options, error) {
	opt := &options{}
	parser := flags.NewParser(opt, flags.Default)
	parser.Name = "pacer"
	parser.Usage = "[OPTIONS]"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opt, nil
}

func isHelp(err error) bool {
	return flags.WroteHelp(err)
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(opt *options) (*config.Config, error) {
	cfg := config.Default()
	if opt.Config != "" {
		loaded, err := config.Load(opt.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opt.FPS != 0 {
		cfg.FPS = opt.FPS
	}
	if opt.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opt.MetricsAddr
	}
	if opt.RedisAddr != "" {
		cfg.Redis.Addr = opt.RedisAddr
	}
	if opt.Verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
