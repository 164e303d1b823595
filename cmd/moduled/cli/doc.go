// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the moduled
// binary: a tree of [Command] values with per-command pflag flag sets,
// generated help, and "did you mean" suggestions for mistyped
// commands and flags.
//
// [NewCommandLogger] builds the slog logger handed to every command.
// [OutputFormat] lets commands print text to people and YAML or JSON
// to scripts, choosing by whether stdout is a terminal.
package cli
