// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import "os"

// attachSettings is everything written to a loop device when a backing
// file is attached.
type attachSettings struct {
	Offset      uint64
	SizeLimit   uint64
	Flags       uint32
	BackingName string
	Tag         string
}

// driver is the kernel surface the allocator uses. The Linux
// implementation issues loop ioctls; tests substitute a fake.
type driver interface {
	// getFree asks the control node for a free loop index, creating a
	// device if needed.
	getFree(controlPath string) (int, error)

	// add asks the control node to create the device with index.
	add(controlPath string, index int) error

	// openDevice opens a loop device node read-write.
	openDevice(path string) (*os.File, error)

	// openBacking opens a backing file read-only, with O_DIRECT when
	// direct is set.
	openBacking(path string, direct bool) (*os.File, error)

	// attach binds backing to device with settings. On failure the
	// device is left detached.
	attach(device, backing *os.File, settings attachSettings) error

	// flushBuffers drops cached pages for the device.
	flushBuffers(device *os.File) error

	// status reads the device's state; ENXIO when nothing is attached.
	status(device *os.File) (Status, error)

	// setFlags replaces the device's settable flags.
	setFlags(device *os.File, flags uint32) error

	// clear detaches the backing file; ENXIO when nothing is attached.
	clear(device *os.File) error
}
