// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package infolist builds and writes the active-module list: one
// [Record] per module naming its image path, version, and flags.
//
// [Build] is the offline path used when assembling a system image. It
// scans the pre-installed directories with duplicates tolerated, turns
// the repository into a [List] with [FromRepository], and falls back
// to [LoadFlattened] when no images exist. [Write] replaces the list
// file atomically in CBOR or YAML.
package infolist
