// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for moduled packages.
//
// [RequirePanic] runs a function that must panic with a value of a
// given type and returns that value. Invariant violations in the
// repository are panics by contract, so tests assert on them with this
// helper instead of recover boilerplate.
//
// [CopyFile] and [HardLink] build the two kinds of "same content"
// files the repository must tell apart: an independent copy and a
// hard link sharing an inode.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no moduled-internal dependencies.
package testutil
