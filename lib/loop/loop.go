// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bureau-foundation/moduled/lib/clock"
)

// TagPrefix marks devices created by this package. It is written into
// the device's crypt-name field. Kernels without loop encryption
// support discard that field, so teardown also recognizes devices by
// their backing file (see Config.BackingDirectories).
const TagPrefix = "moduled:"

// Loop flags as defined by the kernel's linux/loop.h.
const (
	FlagReadOnly  uint32 = 1
	FlagAutoclear uint32 = 4
	FlagDirectIO  uint32 = 16
)

// backingNameLength is the size of lo_file_name; the kernel keeps
// at most this many bytes minus the terminating NUL.
const backingNameLength = 64

var (
	// ErrNoFreeDevice is returned when the kernel has no free loop
	// index to hand out.
	ErrNoFreeDevice = errors.New("loop: no free loop device")

	// ErrDeviceNotReady is returned when a loop device node did not
	// become openable within the configured attempts.
	ErrDeviceNotReady = errors.New("loop: device node not ready")

	// ErrUnsupported is returned on platforms without loop devices.
	ErrUnsupported = errors.New("loop: not supported on this platform")
)

// Config configures an Allocator. Zero fields take the defaults noted.
type Config struct {
	// ControlPath is the loop control node. Default /dev/loop-control.
	ControlPath string

	// DeviceDirectories are searched in order for loopN nodes.
	// Default [/dev/block, /dev].
	DeviceDirectories []string

	// SysfsBlockDirectory is where <name>/queue/read_ahead_kb lives.
	// Default /sys/class/block.
	SysfsBlockDirectory string

	// BackingDirectories hold the images this allocator attaches. A
	// device whose kernel status carries no tag is treated as created
	// by this package when its backing file lies under one of them.
	// Empty means untagged devices are never torn down.
	BackingDirectories []string

	// ReadAheadKB is written to each new device's read-ahead setting.
	// Zero leaves the kernel default.
	ReadAheadKB int

	// WaitAttempts bounds polling for a device node. Default 10.
	WaitAttempts int

	// WaitInterval is the first poll interval; it doubles each attempt
	// up to MaxWaitInterval. Defaults 50ms and 1s.
	WaitInterval    time.Duration
	MaxWaitInterval time.Duration

	// SetupAttempts bounds full allocate-and-attach retries when the
	// kernel reports a busy device. Default 3.
	SetupAttempts int

	// ControlTimeout bounds the wait for ControlPath to exist before
	// pre-allocation. Default 20s.
	ControlTimeout time.Duration

	// Clock drives backoff sleeps. Default clock.Real().
	Clock clock.Clock

	// Logger receives best-effort failures. Default slog.Default().
	Logger *slog.Logger
}

// Allocator creates, configures, and tears down loop devices.
//
// An Allocator holds no per-device state and may be shared, but the
// kernel index space it draws from is global: concurrent allocators
// (in this or other processes) race for indices and rely on the retry
// in CreateAndConfigureLoopDevice.
type Allocator struct {
	config Config
	driver driver
	clock  clock.Clock
	logger *slog.Logger
}

// New returns an Allocator using the platform driver.
func New(config Config) *Allocator {
	return newAllocator(config, platformDriver())
}

func newAllocator(config Config, kernel driver) *Allocator {
	if config.ControlPath == "" {
		config.ControlPath = "/dev/loop-control"
	}
	if len(config.DeviceDirectories) == 0 {
		config.DeviceDirectories = []string{"/dev/block", "/dev"}
	}
	if config.SysfsBlockDirectory == "" {
		config.SysfsBlockDirectory = "/sys/class/block"
	}
	if config.WaitAttempts <= 0 {
		config.WaitAttempts = 10
	}
	if config.WaitInterval <= 0 {
		config.WaitInterval = 50 * time.Millisecond
	}
	if config.MaxWaitInterval <= 0 {
		config.MaxWaitInterval = time.Second
	}
	if config.MaxWaitInterval < config.WaitInterval {
		config.MaxWaitInterval = config.WaitInterval
	}
	if config.SetupAttempts <= 0 {
		config.SetupAttempts = 3
	}
	if config.ControlTimeout <= 0 {
		config.ControlTimeout = 20 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Allocator{
		config: config,
		driver: kernel,
		clock:  config.Clock,
		logger: config.Logger,
	}
}

// Status is the kernel-side state of an attached loop device.
type Status struct {
	// BackingFile is the backing file name as recorded by the kernel,
	// truncated to 63 bytes.
	BackingFile string
	Offset      uint64
	SizeLimit   uint64
	Flags       uint32
	Number      uint32

	// Tag is the device's crypt-name field. Devices created by this
	// package carry TagPrefix followed by the backing file's base name,
	// on kernels that keep the field. Empty otherwise.
	Tag string
}

// ReadOnly reports whether FlagReadOnly is set.
func (s Status) ReadOnly() bool { return s.Flags&FlagReadOnly != 0 }

// Autoclear reports whether FlagAutoclear is set.
func (s Status) Autoclear() bool { return s.Flags&FlagAutoclear != 0 }

// DirectIO reports whether FlagDirectIO is set.
func (s Status) DirectIO() bool { return s.Flags&FlagDirectIO != 0 }

// Tagged reports whether the device carries the TagPrefix tag.
func (s Status) Tagged() bool {
	return strings.HasPrefix(s.Tag, TagPrefix)
}

// DestroyFunc runs during DestroyLoopDevice before the device is
// detached, typically to remove a mapping stacked on top of it. path
// is the loop device path and tag its tag: the recorded one, or the
// one this package would have written when the kernel dropped it.
type DestroyFunc func(path, tag string) error

// deviceTag returns the tag for a device backed by backingFile.
func deviceTag(backingFile string) string {
	return truncateBackingName(TagPrefix + filepath.Base(backingFile))
}

// truncateBackingName returns name as the kernel stores it in the
// fixed-size backing file name field.
func truncateBackingName(name string) string {
	if len(name) >= backingNameLength {
		return name[:backingNameLength-1]
	}
	return name
}
