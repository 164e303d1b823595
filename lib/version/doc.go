// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for moduled.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// For example:
//
//	go build -ldflags "-X github.com/bureau-foundation/moduled/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When a variable is not injected, [Current] falls back to the VCS
// stamp in the binary's build info, so plain go build output still
// names its commit.
package version
