// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FinishConfiguring checks that loopDevice is attached to backingFile
// read-only and ensures autoclear is set, so the device disappears
// once its last user (normally the mount) goes away. Calling it again
// on a finished device changes nothing.
func (a *Allocator) FinishConfiguring(loopDevice, backingFile string) error {
	file, err := a.driver.openDevice(loopDevice)
	if err != nil {
		return fmt.Errorf("opening %s: %w", loopDevice, err)
	}
	defer file.Close()

	status, err := a.driver.status(file)
	if err != nil {
		return fmt.Errorf("reading status of %s: %w", loopDevice, err)
	}
	if want := truncateBackingName(backingFile); status.BackingFile != want {
		return fmt.Errorf("%s is attached to %q, want %q", loopDevice, status.BackingFile, want)
	}
	if !status.ReadOnly() {
		return fmt.Errorf("%s is attached read-write", loopDevice)
	}
	if status.Autoclear() {
		return nil
	}
	if err := a.driver.setFlags(file, status.Flags|FlagAutoclear); err != nil {
		return fmt.Errorf("setting autoclear on %s: %w", loopDevice, err)
	}
	a.logger.Debug("set autoclear on loop device", "device", loopDevice)
	return nil
}

// DestroyLoopDevice detaches the loop device at path if this package
// created it: the device carries the TagPrefix tag or, when the kernel
// kept no tag, its backing file lies under BackingDirectories. A
// missing node, a device with nothing attached, and any other device
// are silently ignored. For devices torn down, extra (if non-nil) runs
// first. Nothing is returned: teardown runs on paths that are already
// failing, so every error is logged instead.
func (a *Allocator) DestroyLoopDevice(path string, extra DestroyFunc) {
	file, err := a.driver.openDevice(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("opening loop device for teardown failed", "device", path, "error", err)
		}
		return
	}
	defer file.Close()

	status, err := a.driver.status(file)
	if err != nil {
		if !errors.Is(err, syscall.ENXIO) {
			a.logger.Warn("reading loop device status for teardown failed", "device", path, "error", err)
		}
		return
	}
	backing := a.backingPath(path, status)
	if !a.owns(status, backing) {
		a.logger.Debug("leaving loop device not created by moduled",
			"device", path,
			"tag", status.Tag,
			"path", backing,
		)
		return
	}

	tag := status.Tag
	if tag == "" {
		tag = deviceTag(backing)
	}
	if extra != nil {
		if err := extra(path, tag); err != nil {
			a.logger.Warn("loop device teardown callback failed", "device", path, "tag", tag, "error", err)
		}
	}
	if err := a.driver.clear(file); err != nil && !errors.Is(err, syscall.ENXIO) {
		a.logger.Warn("detaching loop device failed", "device", path, "error", err)
		return
	}
	a.logger.Debug("detached loop device", "device", path, "path", backing)
}

// owns reports whether a device with status and backing file was
// created by this package. A foreign tag is never ours.
func (a *Allocator) owns(status Status, backing string) bool {
	if status.Tagged() {
		return true
	}
	if status.Tag != "" {
		return false
	}
	return a.inBackingDirectories(backing)
}

// inBackingDirectories reports whether path lies below one of the
// configured BackingDirectories, as given or with symlinks resolved
// (sysfs reports resolved paths).
func (a *Allocator) inBackingDirectories(path string) bool {
	if path == "" {
		return false
	}
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, directory := range a.config.BackingDirectories {
		if directory == "" {
			continue
		}
		candidates := make([]string, 0, 2)
		if absolute, err := filepath.Abs(directory); err == nil {
			candidates = append(candidates, absolute)
		}
		if resolved, err := filepath.EvalSymlinks(directory); err == nil {
			candidates = append(candidates, resolved)
		}
		for _, candidate := range candidates {
			if isBelow(candidate, absolutePath) {
				return true
			}
		}
	}
	return false
}

// isBelow reports whether path is strictly inside directory. Both are
// absolute.
func isBelow(directory, path string) bool {
	relative, err := filepath.Rel(directory, path)
	if err != nil || relative == "." || relative == ".." {
		return false
	}
	return !strings.HasPrefix(relative, ".."+string(filepath.Separator))
}

// backingPath returns the full backing file path of the device at
// devicePath from sysfs loop/backing_file, falling back to the
// kernel's truncated name in status when sysfs has none.
func (a *Allocator) backingPath(devicePath string, status Status) string {
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return status.BackingFile
	}
	attribute := filepath.Join(a.config.SysfsBlockDirectory, filepath.Base(resolved), "loop", "backing_file")
	data, err := os.ReadFile(attribute)
	if err != nil {
		return status.BackingFile
	}
	if path := strings.TrimSpace(string(data)); path != "" {
		return path
	}
	return status.BackingFile
}
