// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// CreateAndConfigureLoopDevice attaches the byte range [offset,
// offset+size) of backingFile to a free loop device and returns the
// open device. The device is read-only with autoclear, uses direct I/O
// when the backing file allows it, and is tagged with TagPrefix on
// kernels that keep the tag.
//
// Each attempt takes a free index from the control node, waits for its
// node, and attaches. An attempt that fails after the device was
// opened detaches it before returning, so no index leaks. Attempts
// failing because another process claimed the device first (EBUSY,
// EAGAIN) or because the node never appeared are retried up to
// SetupAttempts times. ErrNoFreeDevice is returned at once.
//
// Read-ahead is then configured best-effort. The caller owns the
// returned Device and must Keep or Close it.
func (a *Allocator) CreateAndConfigureLoopDevice(backingFile string, offset, size uint64) (*Device, error) {
	var lastErr error
	for attempt := 1; attempt <= a.config.SetupAttempts; attempt++ {
		device, err := a.createOnce(backingFile, offset, size)
		if err == nil {
			if a.config.ReadAheadKB > 0 {
				if err := a.ConfigureReadAhead(device.Path()); err != nil {
					a.logger.Warn("configuring loop read-ahead failed",
						"device", device.Path(),
						"error", err,
					)
				}
			}
			a.logger.Debug("attached loop device",
				"device", device.Path(),
				"path", backingFile,
				"offset", offset,
				"size", size,
			)
			return device, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		a.logger.Warn("loop device setup failed, retrying",
			"path", backingFile,
			"attempt", attempt,
			"error", err,
		)
		if attempt < a.config.SetupAttempts {
			a.clock.Sleep(a.config.WaitInterval)
		}
	}
	return nil, fmt.Errorf("attaching %s after %d attempts: %w", backingFile, a.config.SetupAttempts, lastErr)
}

func retryable(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, ErrDeviceNotReady)
}

func (a *Allocator) createOnce(backingFile string, offset, size uint64) (*Device, error) {
	index, err := a.driver.getFree(a.config.ControlPath)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EOVERFLOW) {
			return nil, fmt.Errorf("%w: %w", ErrNoFreeDevice, err)
		}
		return nil, fmt.Errorf("allocating loop index: %w", err)
	}

	device, err := a.WaitForDevice(index)
	if err != nil {
		return nil, err
	}

	if err := a.attach(device, backingFile, offset, size); err != nil {
		a.discard(device)
		return nil, fmt.Errorf("attaching %s to %s: %w", backingFile, device.Path(), err)
	}
	if err := a.driver.flushBuffers(device.file); err != nil {
		a.discard(device)
		return nil, fmt.Errorf("flushing %s: %w", device.Path(), err)
	}
	a.checkTeardownIdentity(device, backingFile)
	return device, nil
}

// discard detaches and closes a device whose setup failed. A failed
// detach leaks the index until reboot, so it is logged.
func (a *Allocator) discard(device *Device) {
	if err := device.Close(); err != nil {
		a.logger.Warn("releasing loop device after failed setup failed",
			"device", device.Path(),
			"error", err,
		)
	}
}

// checkTeardownIdentity reads the tag back after attach. Kernels
// without loop encryption support drop it, and DestroyLoopDevice then
// recognizes the device only by a backing file under
// BackingDirectories.
func (a *Allocator) checkTeardownIdentity(device *Device, backingFile string) {
	status, err := a.driver.status(device.file)
	if err != nil {
		a.logger.Warn("reading loop device status after attach failed",
			"device", device.Path(),
			"error", err,
		)
		return
	}
	if status.Tagged() {
		return
	}
	if a.inBackingDirectories(backingFile) {
		a.logger.Debug("kernel dropped loop device tag, teardown will match the backing file",
			"device", device.Path(),
			"path", backingFile,
		)
		return
	}
	a.logger.Warn("loop device has no tag and its backing file is outside the backing directories; DestroyLoopDevice will leave it attached",
		"device", device.Path(),
		"path", backingFile,
	)
}

func (a *Allocator) attach(device *Device, backingFile string, offset, size uint64) error {
	flags := FlagReadOnly | FlagAutoclear
	backing, err := a.driver.openBacking(backingFile, true)
	if err == nil {
		flags |= FlagDirectIO
	} else {
		// Filesystems without O_DIRECT support reject the open with
		// EINVAL; buffered I/O still works.
		a.logger.Debug("direct I/O unavailable for backing file, using buffered I/O",
			"path", backingFile,
			"error", err,
		)
		backing, err = a.driver.openBacking(backingFile, false)
		if err != nil {
			return fmt.Errorf("opening backing file: %w", err)
		}
	}
	defer backing.Close()

	return a.driver.attach(device.file, backing, attachSettings{
		Offset:      offset,
		SizeLimit:   size,
		Flags:       flags,
		BackingName: truncateBackingName(backingFile),
		Tag:         deviceTag(backingFile),
	})
}

// PreAllocateLoopDevices creates count loop devices with indices above
// the highest existing loopN node, so later allocations find ready
// nodes instead of racing node creation. It first waits up to
// ControlTimeout for the control node to appear. Indices that already
// exist are skipped. The result is advisory: callers log a returned
// error and continue.
func (a *Allocator) PreAllocateLoopDevices(count int) error {
	if count <= 0 {
		return nil
	}
	if err := a.waitForControl(); err != nil {
		return err
	}

	start := a.highestExistingIndex() + 1
	var errs []error
	created := 0
	for index := start; index < start+count; index++ {
		err := a.driver.add(a.config.ControlPath, index)
		if err == nil {
			created++
			continue
		}
		if errors.Is(err, syscall.EEXIST) {
			continue
		}
		errs = append(errs, err)
	}
	a.logger.Info("pre-allocated loop devices",
		"requested", count,
		"created", created,
		"index", start,
	)
	if len(errs) > 0 {
		return fmt.Errorf("pre-allocating %d loop devices: %w", count, errors.Join(errs...))
	}
	return nil
}

func (a *Allocator) waitForControl() error {
	interval := a.config.WaitInterval
	var waited time.Duration
	for {
		_, err := os.Stat(a.config.ControlPath)
		if err == nil {
			return nil
		}
		if waited >= a.config.ControlTimeout {
			return fmt.Errorf("%w: %s after %v: %w", ErrDeviceNotReady, a.config.ControlPath, waited, err)
		}
		sleep := min(interval, a.config.ControlTimeout-waited)
		a.clock.Sleep(sleep)
		waited += sleep
		interval = min(interval*2, a.config.MaxWaitInterval)
	}
}

// highestExistingIndex returns the largest N with a loopN node in any
// device directory, or -1 when there are none.
func (a *Allocator) highestExistingIndex() int {
	highest := -1
	for _, directory := range a.config.DeviceDirectories {
		entries, err := os.ReadDir(directory)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			suffix, ok := strings.CutPrefix(entry.Name(), "loop")
			if !ok {
				continue
			}
			index, err := strconv.Atoi(suffix)
			if err != nil || index < 0 {
				continue
			}
			highest = max(highest, index)
		}
	}
	return highest
}
