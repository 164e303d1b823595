// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "fmt"

// RequirePanic calls function and fails the test unless it panics with
// a value of type T. Returns the recovered value.
//
//	violation := testutil.RequirePanic[*repository.InvariantViolation](t, func() {
//		repo.AddPreInstalledApex(directories)
//	})
func RequirePanic[T any](t interface {
	Helper()
	Fatalf(format string, args ...any)
}, function func(), msgAndArgs ...any) T {
	t.Helper()
	recovered, panicked := capturePanic(function)
	if !panicked {
		t.Fatalf("expected panic, function returned normally: %s", formatMessage(msgAndArgs))
	}
	value, ok := recovered.(T)
	if !ok {
		var zero T
		t.Fatalf("panic value is %T (%v), want %T: %s", recovered, recovered, zero, formatMessage(msgAndArgs))
	}
	return value
}

func capturePanic(function func()) (recovered any, panicked bool) {
	defer func() {
		if value := recover(); value != nil {
			recovered = value
			panicked = true
		}
	}()
	function()
	return nil, false
}

func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "(no message)"
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
