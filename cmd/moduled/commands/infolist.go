// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/infolist"
)

func infoListCommand() *cli.Command {
	var (
		configuration configFlags
		format        string
		output        string
	)

	return &cli.Command{
		Name:    "info-list",
		Summary: "Write the active-module list for a system image",
		Description: `Build the active-module list from the pre-installed images of an
unpacked system image and write it under the image's active module
root.

Every pre-installed module is listed as factory and active. When a
module is installed in more than one pre-installed directory, the
first directory wins. When no images exist at all, the directories are
searched for flattened packages (directories holding manifest.cbor)
instead. Paths in the list are relative to --root.`,
		Usage: "moduled info-list --root <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "Write <root>/modules/module-info-list.cbor",
				Command:     "moduled info-list --root out/target/root",
			},
			{
				Description: "Print the list as YAML",
				Command:     "moduled info-list --root out/target/root --format yaml --output -",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("info-list", pflag.ContinueOnError)
			configuration.register(flagSet)
			flagSet.StringVar(&format, "format", "cbor", "list encoding: cbor or yaml")
			flagSet.StringVarP(&output, "output", "o", "", "output file, or - for stdout (default <active>/"+infolist.FileName+")")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: moduled info-list --root <dir> [flags]")
			}
			if configuration.root == "" {
				return fmt.Errorf("--root is required")
			}
			listFormat, err := infolist.ParseFormat(format)
			if err != nil {
				return err
			}
			root, err := infolist.ResolveRoot(configuration.root)
			if err != nil {
				return err
			}
			configuration.root = root
			cfg, err := configuration.load()
			if err != nil {
				return err
			}

			list, err := infolist.Build(root, cfg.Directories.BuiltIn, logger)
			if err != nil {
				return err
			}

			if output == "-" {
				data, err := infolist.Marshal(list, listFormat)
				if err != nil {
					return err
				}
				_, err = stdout.Write(data)
				return err
			}
			if output == "" {
				output = filepath.Join(cfg.Directories.Active, infolist.FileName)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(output), err)
			}
			if err := infolist.Write(output, list, listFormat); err != nil {
				return err
			}
			logger.Info("wrote active-module list", "path", output, "modules", len(list.Modules), "format", listFormat.String())
			return nil
		},
	}
}
