// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/lib/config"
	"github.com/bureau-foundation/moduled/lib/loop"
	"github.com/bureau-foundation/moduled/lib/repository"
)

// configFlags are the flags shared by every command that reads the
// moduled configuration.
type configFlags struct {
	path string
	root string
}

func (f *configFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.path, "config", "", "path to moduled.yaml (default $MODULED_CONFIG, else built-in defaults)")
	flagSet.StringVar(&f.root, "root", "", "prefix for default paths, overriding the config file's root")
}

// load reads the configuration file named by --config or
// MODULED_CONFIG, or uses the defaults when neither is set. --root is
// applied before variable expansion so it relocates every default
// path.
func (f *configFlags) load() (*config.Config, error) {
	path := f.path
	if path == "" {
		path = os.Getenv("MODULED_CONFIG")
	}

	cfg := config.Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg, err = config.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if f.root != "" {
		cfg.Root = f.root
	}
	cfg.ExpandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newRepository returns an empty repository configured from cfg.
func newRepository(cfg *config.Config, logger *slog.Logger) *repository.Repository {
	options := []repository.Option{
		repository.WithDecompressionDir(cfg.Directories.Decompression),
		repository.WithOpenConcurrency(cfg.Repository.OpenConcurrency),
		repository.WithLogger(logger),
	}
	if cfg.Repository.IgnoreDuplicates {
		options = append(options, repository.WithIgnoreDuplicates())
	}
	return repository.New(nil, options...)
}

// loopConfig converts the loop section of cfg for loop.New.
func loopConfig(cfg *config.Config, logger *slog.Logger) (loop.Config, error) {
	waitInterval, err := cfg.Loop.WaitIntervalDuration()
	if err != nil {
		return loop.Config{}, fmt.Errorf("loop.wait_interval: %w", err)
	}
	maxWaitInterval, err := cfg.Loop.MaxWaitIntervalDuration()
	if err != nil {
		return loop.Config{}, fmt.Errorf("loop.max_wait_interval: %w", err)
	}
	controlTimeout, err := cfg.Loop.ControlTimeoutDuration()
	if err != nil {
		return loop.Config{}, fmt.Errorf("loop.control_timeout: %w", err)
	}
	return loop.Config{
		ControlPath:         cfg.Loop.ControlPath,
		DeviceDirectories:   cfg.Loop.DeviceDirectories,
		SysfsBlockDirectory: cfg.Loop.SysfsBlock,
		BackingDirectories:  imageDirectories(cfg),
		ReadAheadKB:         cfg.Loop.ReadAheadKB,
		WaitAttempts:        cfg.Loop.WaitAttempts,
		WaitInterval:        waitInterval,
		MaxWaitInterval:     maxWaitInterval,
		SetupAttempts:       cfg.Loop.SetupAttempts,
		ControlTimeout:      controlTimeout,
		Logger:              logger,
	}, nil
}

// imageDirectories lists every directory a loop device's backing image
// can come from.
func imageDirectories(cfg *config.Config) []string {
	var directories []string
	for _, directory := range append(slices.Clone(cfg.Directories.BuiltIn),
		cfg.Directories.Data, cfg.Directories.Decompression) {
		if directory != "" {
			directories = append(directories, directory)
		}
	}
	return directories
}
