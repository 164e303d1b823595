// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the moduled command tree.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/version"
)

// stdout receives command results. Tests replace it.
var stdout io.Writer = os.Stdout

// Root returns the complete moduled command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "moduled",
		Description: `moduled: module package repository and loop-device tooling.

Scans pre-installed and data module directories, decompresses
compressed images, builds the active-module list, and attaches image
payloads to loop devices. Pass -v before the command (or set
MODULED_DEBUG) for debug logging.`,
		Subcommands: []*cli.Command{
			scanCommand(),
			inspectCommand(),
			decompressCommand(),
			infoListCommand(),
			attachCommand(),
			finishCommand(),
			detachCommand(),
			preallocateCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(stdout, "moduled %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Show which image each module resolves to",
				Command:     "moduled scan",
			},
			{
				Description: "Write the active-module list for an unpacked system image",
				Command:     "moduled info-list --root out/target/root",
			},
			{
				Description: "Describe an image",
				Command:     "moduled inspect /system/modules/com.example.media.mpkg",
			},
		},
	}
}
