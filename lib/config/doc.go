// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for moduled.
//
// Configuration is loaded from a single file specified by either the
// MODULED_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Values in the file are merged over [Default]; there
// is no file discovery and no per-field environment override.
//
// Variable expansion is performed on path fields after loading:
// ${MODULED_ROOT} (the Root field) and ${VAR:-default} patterns are
// expanded. Pointing Root at an unpacked system image lets the
// read-only tooling run on a host against the same default layout a
// device uses.
//
// Key exports:
//
//   - [Config] -- master struct with Directories, Loop, Repository
//   - [Default] -- returns a Config with device defaults (unexpanded)
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once via errors.Join
//
// This package depends on no other moduled packages.
package config
