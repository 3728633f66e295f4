package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Overrides are command-line values applied on top of the loaded Config.
// Empty fields leave the Config untouched.
type Overrides struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	OpsAddr    string
}

func (o Overrides) apply(cfg *Config) {
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.OpsAddr != "" {
		cfg.OpsAddr = o.OpsAddr
	}
}

// Run is the CLI entrypoint used by cmd/teamly.
// It returns an error instead of calling os.Exit so deferred cleanup runs.
func Run(o Overrides) error {
	cfg, err := LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
