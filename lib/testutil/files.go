// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// CopyFile copies source to destination as an independent file with
// its own inode.
func CopyFile(t testing.TB, source, destination string) {
	t.Helper()
	data, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("reading %s: %v", source, err)
	}
	if err := os.WriteFile(destination, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", destination, err)
	}
}

// HardLink creates link as a hard link to target. Skips the test when
// the filesystem refuses hard links.
func HardLink(t testing.TB, target, link string) {
	t.Helper()
	if err := os.Link(target, link); err != nil {
		t.Skipf("hard links unsupported: %v", err)
	}
}
