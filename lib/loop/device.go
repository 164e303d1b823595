// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Device is an open loop device node. It owns the descriptor and,
// until Keep is called, the attachment: Close detaches the backing
// file before closing. Every Device ends in exactly one of two states:
//
//   - kept: Keep closed the descriptor and left the device attached,
//     handing it off to whatever mounted or mapped it
//   - closed: Close detached the device (if attached) and closed the
//     descriptor
//
// The usual pattern defers Close and calls Keep on success; Close after
// Keep does nothing.
type Device struct {
	path   string
	file   *os.File
	driver driver
	done   bool
}

// Path returns the device node path, e.g. /dev/block/loop7.
func (d *Device) Path() string { return d.path }

// Fd returns the device descriptor. Invalid after Keep or Close.
func (d *Device) Fd() uintptr { return d.file.Fd() }

// Keep closes the descriptor without detaching. With autoclear set the
// kernel detaches the device when its last user goes away, so callers
// must take their own reference (mount, mapping) before Keep.
func (d *Device) Keep() error {
	if d.done {
		return fmt.Errorf("loop device %s: already released", d.path)
	}
	d.done = true
	return d.file.Close()
}

// Close detaches the device and closes the descriptor, unless Keep
// already released it. A device with nothing attached is simply
// closed.
func (d *Device) Close() error {
	if d.done {
		return nil
	}
	d.done = true
	var detachErr error
	if err := d.driver.clear(d.file); err != nil && !errors.Is(err, syscall.ENXIO) {
		detachErr = fmt.Errorf("detaching %s: %w", d.path, err)
	}
	return errors.Join(detachErr, d.file.Close())
}
