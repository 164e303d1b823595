// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/image"
	"github.com/bureau-foundation/moduled/lib/repository"
)

func decompressCommand() *cli.Command {
	var (
		configuration configFlags
		all           bool
	)

	return &cli.Command{
		Name:    "decompress",
		Summary: "Decompress compressed module images",
		Description: `Write the plain image embedded in a compressed image.

With two arguments, decompress one image to an explicit destination.
With --all, scan the configured pre-installed directories and
decompress every compressed module into the decompression directory
as <name>@<version>.mpkg, skipping originals that already exist.

The output is verified (size, BLAKE3 digest, name, version, and public
key) before it is renamed into place; a failed decompression leaves
no file behind.`,
		Usage: "moduled decompress <image.cmpkg> <destination.mpkg>\n  moduled decompress --all [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("decompress", pflag.ContinueOnError)
			configuration.register(flagSet)
			flagSet.BoolVar(&all, "all", false, "decompress every compressed pre-installed module")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if all {
				if len(args) != 0 {
					return fmt.Errorf("--all takes no arguments")
				}
				return decompressAll(&configuration, logger)
			}
			if len(args) != 2 {
				return fmt.Errorf("usage: moduled decompress <image.cmpkg> <destination.mpkg>")
			}
			compressed, err := image.Open(args[0])
			if err != nil {
				return err
			}
			if err := compressed.Decompress(args[1]); err != nil {
				return err
			}
			logger.Info("decompressed module image",
				"module", compressed.Name(),
				"path", args[0],
				"destination", args[1],
			)
			return nil
		},
	}
}

func decompressAll(configuration *configFlags, logger *slog.Logger) error {
	cfg, err := configuration.load()
	if err != nil {
		return err
	}
	repo := newRepository(cfg, logger)
	if err := repo.AddPreInstalledApex(cfg.Directories.BuiltIn); err != nil {
		return err
	}
	if err := os.MkdirAll(repo.DecompressionDir(), 0755); err != nil {
		return fmt.Errorf("creating decompression directory: %w", err)
	}

	var errs []error
	decompressed := 0
	for _, module := range repo.GetPreInstalledApexFiles() {
		if !module.IsCompressed() {
			continue
		}
		destination := repo.DecompressedPath(module)
		if _, err := os.Stat(destination); err == nil {
			logger.Debug("decompressed original already present", "module", module.Name(), "path", destination)
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		if err := module.Decompress(destination); err != nil {
			logger.Error("decompressing module failed", "module", module.Name(), "path", module.Path(), "error", err)
			errs = append(errs, &repository.ImageError{Name: module.Name(), Path: module.Path(), Err: err})
			continue
		}
		decompressed++
		logger.Info("decompressed module image", "module", module.Name(), "path", module.Path(), "destination", destination)
	}
	if len(errs) > 0 {
		return fmt.Errorf("decompressing %d of the pre-installed modules failed: %w", len(errs), errors.Join(errs...))
	}
	logger.Debug("decompression complete", "decompressed", decompressed)
	return nil
}
