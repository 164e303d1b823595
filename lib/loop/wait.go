// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// DevicePaths returns the candidate node paths for a loop index, one
// per configured device directory, in search order.
func (a *Allocator) DevicePaths(index int) []string {
	paths := make([]string, 0, len(a.config.DeviceDirectories))
	for _, directory := range a.config.DeviceDirectories {
		paths = append(paths, filepath.Join(directory, "loop"+strconv.Itoa(index)))
	}
	return paths
}

// WaitForDevice opens the node for loop index once it exists. The
// kernel creates device nodes asynchronously after handing out an
// index, so each candidate path is tried, then retried after a
// backoff interval that doubles up to MaxWaitInterval, for at most
// WaitAttempts rounds. Fails with ErrDeviceNotReady.
func (a *Allocator) WaitForDevice(index int) (*Device, error) {
	interval := a.config.WaitInterval
	var lastErr error
	for attempt := 1; ; attempt++ {
		for _, path := range a.DevicePaths(index) {
			file, err := a.driver.openDevice(path)
			if err == nil {
				if attempt > 1 {
					a.logger.Debug("loop device node appeared", "device", path, "attempt", attempt)
				}
				return &Device{path: path, file: file, driver: a.driver}, nil
			}
			lastErr = err
		}
		if attempt >= a.config.WaitAttempts {
			break
		}
		a.clock.Sleep(interval)
		interval = min(interval*2, a.config.MaxWaitInterval)
	}
	return nil, fmt.Errorf("%w: loop%d after %d attempts: %w",
		ErrDeviceNotReady, index, a.config.WaitAttempts, lastErr)
}
