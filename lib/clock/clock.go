// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by retry and polling loops.
// Production code injects Real(); tests inject Fake() so that backoff
// schedules can be asserted without sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	// Non-positive durations return immediately.
	Sleep(d time.Duration)
}
