// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for moduled.
type Config struct {
	// Root is prefixed to every default path through ${MODULED_ROOT}.
	// Empty on a device; set to a staging tree when inspecting an
	// unpacked system image from a host.
	Root string `yaml:"root"`

	// Directories configures where images are found and placed.
	Directories DirectoriesConfig `yaml:"directories"`

	// Loop configures loop-device allocation.
	Loop LoopConfig `yaml:"loop"`

	// Repository configures directory scanning.
	Repository RepositoryConfig `yaml:"repository"`
}

// DirectoriesConfig configures directory locations.
type DirectoriesConfig struct {
	// BuiltIn lists the read-only pre-installed directories, scanned in
	// order. The first directory to provide a module name records it.
	BuiltIn []string `yaml:"built_in"`

	// Data is the updatable image directory.
	// Default: ${MODULED_ROOT}/data/modules/active
	Data string `yaml:"data"`

	// Decompression holds decompressed originals of compressed
	// pre-installed images, named <name>@<version>.mpkg.
	// Default: ${MODULED_ROOT}/data/modules/decompressed
	Decompression string `yaml:"decompression"`

	// Active is the mount root under which activated modules appear.
	// Module paths in the active-module list are reported relative to
	// Root, so this only affects flattened-package discovery.
	// Default: ${MODULED_ROOT}/modules
	Active string `yaml:"active"`
}

// LoopConfig configures loop-device allocation.
type LoopConfig struct {
	// ControlPath is the loop control node.
	// Default: /dev/loop-control
	ControlPath string `yaml:"control_path"`

	// DeviceDirectories are searched in order for loopN nodes.
	// Default: [/dev/block, /dev]
	DeviceDirectories []string `yaml:"device_directories"`

	// SysfsBlock is the sysfs block class directory used for read-ahead
	// tuning.
	// Default: /sys/class/block
	SysfsBlock string `yaml:"sysfs_block"`

	// ReadAheadKB is written to queue/read_ahead_kb of each new device.
	// Zero disables read-ahead tuning.
	// Default: 128
	ReadAheadKB int `yaml:"read_ahead_kb"`

	// PreAllocate is the number of devices to create ahead of use.
	// Default: 0
	PreAllocate int `yaml:"pre_allocate"`

	// WaitAttempts bounds the polls for a device node to appear.
	// Default: 10
	WaitAttempts int `yaml:"wait_attempts"`

	// WaitInterval is the first backoff interval between polls.
	// Doubles after each attempt up to MaxWaitInterval.
	// Default: 50ms
	WaitInterval string `yaml:"wait_interval"`

	// MaxWaitInterval caps the backoff interval.
	// Default: 1s
	MaxWaitInterval string `yaml:"max_wait_interval"`

	// SetupAttempts bounds whole allocation retries on busy devices.
	// Default: 3
	SetupAttempts int `yaml:"setup_attempts"`

	// ControlTimeout bounds the wait for ControlPath to appear before
	// pre-allocation.
	// Default: 20s
	ControlTimeout string `yaml:"control_timeout"`
}

// RepositoryConfig configures directory scanning.
type RepositoryConfig struct {
	// IgnoreDuplicates keeps the first pre-installed image found for a
	// name instead of aborting. Only for offline tooling.
	// Default: false
	IgnoreDuplicates bool `yaml:"ignore_duplicates"`

	// OpenConcurrency bounds parallel image opening within one
	// directory scan.
	// Default: 4
	OpenConcurrency int `yaml:"open_concurrency"`
}

// Default returns the default configuration. It is used as-is when no
// configuration file is given and as the base a file is merged into.
func Default() *Config {
	return &Config{
		Directories: DirectoriesConfig{
			BuiltIn: []string{
				"${MODULED_ROOT}/system/modules",
				"${MODULED_ROOT}/system_ext/modules",
				"${MODULED_ROOT}/product/modules",
				"${MODULED_ROOT}/vendor/modules",
			},
			Data:          "${MODULED_ROOT}/data/modules/active",
			Decompression: "${MODULED_ROOT}/data/modules/decompressed",
			Active:        "${MODULED_ROOT}/modules",
		},
		Loop: LoopConfig{
			ControlPath:       "/dev/loop-control",
			DeviceDirectories: []string{"/dev/block", "/dev"},
			SysfsBlock:        "/sys/class/block",
			ReadAheadKB:       128,
			WaitAttempts:      10,
			WaitInterval:      "50ms",
			MaxWaitInterval:   "1s",
			SetupAttempts:     3,
			ControlTimeout:    "20s",
		},
		Repository: RepositoryConfig{
			OpenConcurrency: 4,
		},
	}
}

// Load loads configuration from the MODULED_CONFIG environment
// variable. Fails when the variable is not set; callers that accept
// built-in defaults check the variable themselves.
func Load() (*Config, error) {
	configPath := os.Getenv("MODULED_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MODULED_CONFIG environment variable not set; " +
			"set it to the path of a moduled.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// Default, with variables expanded.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// Parse merges YAML data over Default without expanding variables, so
// callers can override Root before calling ExpandVariables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandVariables expands ${MODULED_ROOT}, ${VAR}, and ${VAR:-default}
// patterns in every path field. LoadFile calls it; callers building a
// Config from Default call it after setting Root.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"MODULED_ROOT": c.Root,
	}

	for i, directory := range c.Directories.BuiltIn {
		c.Directories.BuiltIn[i] = expandVars(directory, vars)
	}
	c.Directories.Data = expandVars(c.Directories.Data, vars)
	c.Directories.Decompression = expandVars(c.Directories.Decompression, vars)
	c.Directories.Active = expandVars(c.Directories.Active, vars)

	c.Loop.ControlPath = expandVars(c.Loop.ControlPath, vars)
	for i, directory := range c.Loop.DeviceDirectories {
		c.Loop.DeviceDirectories[i] = expandVars(directory, vars)
	}
	c.Loop.SysfsBlock = expandVars(c.Loop.SysfsBlock, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars are consulted first, even when empty, so an unset Root expands
// to nothing instead of leaking an environment value.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok {
			if value == "" {
				return defaultValue
			}
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Directories.BuiltIn) == 0 {
		errs = append(errs, fmt.Errorf("directories.built_in must list at least one directory"))
	}
	for i, directory := range c.Directories.BuiltIn {
		if directory == "" {
			errs = append(errs, fmt.Errorf("directories.built_in[%d] is empty", i))
		}
	}
	if c.Directories.Data == "" {
		errs = append(errs, fmt.Errorf("directories.data is required"))
	}
	if c.Directories.Decompression == "" {
		errs = append(errs, fmt.Errorf("directories.decompression is required"))
	}

	if c.Loop.ControlPath == "" {
		errs = append(errs, fmt.Errorf("loop.control_path is required"))
	}
	if len(c.Loop.DeviceDirectories) == 0 {
		errs = append(errs, fmt.Errorf("loop.device_directories must list at least one directory"))
	}
	if c.Loop.ReadAheadKB < 0 {
		errs = append(errs, fmt.Errorf("loop.read_ahead_kb must not be negative"))
	}
	if c.Loop.PreAllocate < 0 {
		errs = append(errs, fmt.Errorf("loop.pre_allocate must not be negative"))
	}
	if c.Loop.WaitAttempts < 1 {
		errs = append(errs, fmt.Errorf("loop.wait_attempts must be at least 1"))
	}
	if c.Loop.SetupAttempts < 1 {
		errs = append(errs, fmt.Errorf("loop.setup_attempts must be at least 1"))
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"loop.wait_interval", c.Loop.WaitInterval},
		{"loop.max_wait_interval", c.Loop.MaxWaitInterval},
		{"loop.control_timeout", c.Loop.ControlTimeout},
	} {
		if _, err := parseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if c.Repository.OpenConcurrency < 1 {
		errs = append(errs, fmt.Errorf("repository.open_concurrency must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WaitIntervalDuration returns the parsed loop.wait_interval.
func (c *LoopConfig) WaitIntervalDuration() (time.Duration, error) {
	return parseDuration(c.WaitInterval)
}

// MaxWaitIntervalDuration returns the parsed loop.max_wait_interval.
func (c *LoopConfig) MaxWaitIntervalDuration() (time.Duration, error) {
	return parseDuration(c.MaxWaitInterval)
}

// ControlTimeoutDuration returns the parsed loop.control_timeout.
func (c *LoopConfig) ControlTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.ControlTimeout)
}

func parseDuration(value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return duration, nil
}
