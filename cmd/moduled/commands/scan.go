// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/config"
	"github.com/bureau-foundation/moduled/lib/repository"
)

// scanEntry is one image known to the repository after a scan.
type scanEntry struct {
	Name         string `json:"name" yaml:"name"`
	Version      int64  `json:"version" yaml:"version"`
	Source       string `json:"source" yaml:"source"`
	Path         string `json:"path" yaml:"path"`
	Compressed   bool   `json:"compressed" yaml:"compressed"`
	Decompressed bool   `json:"decompressed" yaml:"decompressed"`
	Selected     bool   `json:"selected" yaml:"selected"`
}

func scanCommand() *cli.Command {
	var (
		configuration configFlags
		output        string
	)

	return &cli.Command{
		Name:    "scan",
		Summary: "Scan module directories and show each module's images",
		Description: `Scan the pre-installed directories, then the data directory, the way
the activation path does, and list every image found per module.

The selected image of a module is its data image when one was
accepted, otherwise its pre-installed image. Data images are accepted
only when a pre-installed image of the same name bundles the same
public key; rejected images are reported in the log.`,
		Usage: "moduled scan [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("scan", pflag.ContinueOnError)
			configuration.register(flagSet)
			flagSet.StringVar(&output, "output", "", "output format: text, yaml, or json (default text on a terminal, yaml otherwise)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: moduled scan [flags]")
			}
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			cfg, err := configuration.load()
			if err != nil {
				return err
			}
			repo, err := scanRepository(cfg, logger)
			if err != nil {
				return err
			}
			return printScan(collectScan(repo), format.Resolve())
		},
	}
}

// scanRepository scans the configured pre-installed and data
// directories into a new repository.
func scanRepository(cfg *config.Config, logger *slog.Logger) (*repository.Repository, error) {
	repo := newRepository(cfg, logger)
	if err := repo.AddPreInstalledApex(cfg.Directories.BuiltIn); err != nil {
		return nil, err
	}
	if err := repo.AddDataApex(cfg.Directories.Data); err != nil {
		return nil, err
	}
	return repo, nil
}

func collectScan(repo *repository.Repository) []scanEntry {
	byName := repo.AllApexFilesByName()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := []scanEntry{}
	for _, name := range names {
		hasData := repo.HasDataVersion(name)
		for _, module := range byName[name] {
			source := "data"
			if repo.IsPreInstalledApex(module) {
				source = "pre-installed"
			}
			entries = append(entries, scanEntry{
				Name:         name,
				Version:      module.Version(),
				Source:       source,
				Path:         module.Path(),
				Compressed:   module.IsCompressed(),
				Decompressed: repo.IsDecompressedApex(module),
				Selected:     (source == "data") == hasData,
			})
		}
	}
	return entries
}

func printScan(entries []scanEntry, format cli.OutputFormat) error {
	if format != cli.OutputText {
		return cli.WriteStructured(stdout, format, entries)
	}
	writer := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(writer, "MODULE\tVERSION\tSOURCE\tSELECTED\tPATH")
	for _, entry := range entries {
		selected := ""
		if entry.Selected {
			selected = "*"
		}
		source := entry.Source
		switch {
		case entry.Compressed:
			source += " (compressed)"
		case entry.Decompressed:
			source += " (decompressed)"
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n", entry.Name, entry.Version, source, selected, entry.Path)
	}
	return writer.Flush()
}
