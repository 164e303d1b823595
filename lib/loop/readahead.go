// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ConfigureReadAhead writes ReadAheadKB to the device's
// queue/read_ahead_kb in sysfs. devicePath may be a symlink; the
// kernel name is the base name of its target. Failure only costs
// performance, and callers in this package log it and continue.
func (a *Allocator) ConfigureReadAhead(devicePath string) error {
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", devicePath, err)
	}
	name := filepath.Base(resolved)
	sysfsPath := filepath.Join(a.config.SysfsBlockDirectory, name, "queue", "read_ahead_kb")

	file, err := os.OpenFile(sysfsPath, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", sysfsPath, err)
	}
	_, writeErr := file.WriteString(strconv.Itoa(a.config.ReadAheadKB))
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("writing %s: %w", sysfsPath, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", sysfsPath, closeErr)
	}
	return nil
}
