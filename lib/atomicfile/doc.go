// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files so that readers never observe a
// partially written result.
//
// Content goes to a temporary file in the target's directory which is
// synced, closed, and renamed over the target, after which the parent
// directory is synced. [Create] returns a [File] for streaming writers
// (decompression, image assembly); [WriteFile] covers the common
// whole-buffer case (the active-module list).
package atomicfile
