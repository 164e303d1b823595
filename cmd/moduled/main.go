// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/cmd/moduled/commands"
	"github.com/bureau-foundation/moduled/lib/repository"
)

func main() {
	if err := run(); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A repository invariant violation has already been logged with
	// its details; end the process without a goroutine dump.
	defer func() {
		if recovered := recover(); recovered != nil {
			if violation, ok := recovered.(*repository.InvariantViolation); ok {
				fmt.Fprintf(os.Stderr, "fatal: %v\n", violation)
				os.Exit(2)
			}
			panic(recovered)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verbose, args := cli.StripVerbose(os.Args[1:])
	return commands.Root().Execute(ctx, args, cli.NewCommandLogger(verbose))
}
