// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// DebugEnvironment turns on debug logging when set to any non-empty
// value, like the -v flag.
const DebugEnvironment = "MODULED_DEBUG"

// NewCommandLogger creates the logger commands write to. On a
// terminal it uses slog.TextHandler for people; when stderr is piped
// (init scripts, build systems) it uses slog.JSONHandler so the
// records can be parsed. The level is Debug when verbose is set or
// DebugEnvironment is non-empty, Info otherwise.
func NewCommandLogger(verbose bool) *slog.Logger {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), verbose || os.Getenv(DebugEnvironment) != "")
}

func newLogger(w io.Writer, terminal, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// StripVerbose removes leading -v/--verbose arguments, which are
// accepted before the subcommand name, and reports whether any were
// present.
func StripVerbose(args []string) (bool, []string) {
	verbose := false
	for len(args) > 0 && (args[0] == "-v" || args[0] == "--verbose") {
		verbose = true
		args = args[1:]
	}
	return verbose, args
}
