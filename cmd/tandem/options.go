// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/cmd/tandem/cli"
	"github.com/bureau-foundation/tandem/lib/color"
	"github.com/bureau-foundation/tandem/lib/config"
	"github.com/bureau-foundation/tandem/lib/dispatch"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/wire"
	"github.com/bureau-foundation/tandem/session"
	"github.com/bureau-foundation/tandem/transport"
)

// options are the flags every session command shares. Flags that are
// set override the configuration file.
type options struct {
	configPath string
	id         string
	color      int
	mode       string
	logLevel   string

	flags *pflag.FlagSet
}

func (o *options) register(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVarP(&o.configPath, "config", "c", "", "config file (default $"+config.EnvironmentVariable+", else built-in defaults)")
	fs.StringVar(&o.id, "id", "", "participant id (overrides identity.id)")
	fs.IntVar(&o.color, "color", membership.UnknownColor, "preferred color index, -1 for none (overrides identity.preferred_color)")
	fs.StringVar(&o.mode, "dispatch", "", "dispatch mode, queued or inline (overrides session.dispatch_mode)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
}

// load reads the configuration and applies the flags over it.
func (o *options) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvironmentVariable)
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
		cfg.ExpandVariables()
	} else {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if o.id != "" {
		cfg.Identity.ID = o.id
	}
	if o.changed("color") {
		cfg.Identity.PreferredColor = o.color
	}
	if o.mode != "" {
		cfg.Session.DispatchMode = o.mode
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func (o *options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

func commandLogger(cfg *config.Config, command string) (*slog.Logger, error) {
	level, err := cli.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return cli.NewCommandLogger(level).With("command", command), nil
}

// identity returns the configured participant id, which session
// commands cannot run without.
func identity(cfg *config.Config) (ref.UserID, error) {
	if cfg.Identity.ID == "" {
		return "", errors.New("no participant id: pass --id or set identity.id")
	}
	return ref.ParseUserID(cfg.Identity.ID)
}

func wireOptions(cfg *config.Config) (wire.Options, error) {
	compression, err := wire.ParseCompression(cfg.Transport.Compression)
	if err != nil {
		return wire.Options{}, err
	}
	return wire.Options{Compression: compression, Threshold: cfg.Transport.CompressionThreshold}, nil
}

// sessionConfig maps the configuration onto a session.Config for local
// in a session hosted by host.
func sessionConfig(cfg *config.Config, local, host ref.UserID, t transport.Transport, store color.Store, logger *slog.Logger) (session.Config, error) {
	mode, err := dispatch.ParseMode(cfg.Session.DispatchMode)
	if err != nil {
		return session.Config{}, err
	}
	timeout, err := cfg.SyncTimeoutDuration()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Local:          local,
		Host:           host,
		PreferredColor: cfg.Identity.PreferredColor,
		Transport:      t,
		Mode:           mode,
		QueueCapacity:  cfg.Session.QueueCapacity,
		ColorStore:     store,
		StrictColors:   cfg.Session.StrictColors,
		SyncTimeout:    timeout,
		Logger:         logger,
	}, nil
}
