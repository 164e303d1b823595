// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides a minimal time abstraction for code that polls
// or retries.
//
// Loop-device activation has to poll for device nodes that the kernel
// and udev create asynchronously, and it retries busy ioctls with
// backoff. Both loops take a [Clock] so the schedule is testable:
//
//   - [Real] -- delegates to the time package
//   - [Fake] -- returns a [FakeClock] whose Sleep advances fake time
//     instantly and records the requested duration
//
// The fake never blocks, which suits the single-threaded, sequential
// control flow of the activation code: a test drives the code under
// test to completion and then inspects [FakeClock.Sleeps].
//
// This package has no dependencies on other moduled packages.
package clock
