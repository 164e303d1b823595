// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loop allocates and tears down Linux loop devices that expose
// a byte range of a module image as a read-only block device.
//
// [Allocator.CreateAndConfigureLoopDevice] is the main entry point. It
// takes a free index from the loop control node, waits for the device
// node to appear, attaches the backing file (direct I/O when possible,
// falling back to buffered), flushes stale buffers, and tunes
// read-ahead. Devices carry a [TagPrefix] tag where the kernel keeps
// one; otherwise [Allocator.DestroyLoopDevice] recognizes its devices
// by a backing file under [Config.BackingDirectories]. It never
// detaches devices it did not create.
//
// The returned [Device] must end in Keep (hand-off to a mount) or
// Close (detach). [Allocator.FinishConfiguring] re-checks a kept
// device after the mount and makes sure autoclear is set.
//
// Kernel access goes through an unexported driver interface built on
// golang.org/x/sys/unix. Unit tests run against a fake driver with
// regular files standing in for device nodes; the tests in
// integration_linux_test.go exercise the real kernel and skip unless
// run as root on a host with loop support.
package loop
