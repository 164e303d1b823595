// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/image"
)

type inspectResult struct {
	Path              string         `json:"path" yaml:"path"`
	Name              string         `json:"name" yaml:"name"`
	Version           int64          `json:"version" yaml:"version"`
	VersionName       string         `json:"version_name,omitempty" yaml:"version_name,omitempty"`
	ProvideSharedLibs bool           `json:"provide_shared_libs" yaml:"provide_shared_libs"`
	KeyFingerprint    string         `json:"key_fingerprint" yaml:"key_fingerprint"`
	Compression       *inspectOrigin `json:"compression,omitempty" yaml:"compression,omitempty"`
	PayloadOffset     int64          `json:"payload_offset,omitempty" yaml:"payload_offset,omitempty"`
	PayloadSize       int64          `json:"payload_size,omitempty" yaml:"payload_size,omitempty"`
	Entries           []inspectEntry `json:"entries" yaml:"entries"`
}

type inspectOrigin struct {
	Codec          string `json:"codec" yaml:"codec"`
	OriginalDigest string `json:"original_digest" yaml:"original_digest"`
	OriginalSize   int64  `json:"original_size" yaml:"original_size"`
	Decompressible bool   `json:"decompressible" yaml:"decompressible"`
}

type inspectEntry struct {
	Name   string `json:"name" yaml:"name"`
	Size   int64  `json:"size" yaml:"size"`
	Offset int64  `json:"offset" yaml:"offset"`
}

func inspectCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "inspect",
		Summary: "Describe module images",
		Description: `Open each image and print its manifest, the fingerprint of its
bundled public key, and its container layout. For plain images the
payload byte range (what a loop device exposes) is shown; for
compressed images, the codec and the digest of the embedded original.

Images that fail to open are reported and the exit status is 1.`,
		Usage: "moduled inspect [flags] <image>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.StringVar(&output, "output", "", "output format: text, yaml, or json (default text on a terminal, yaml otherwise)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: moduled inspect [flags] <image>...")
			}
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			format = format.Resolve()

			results := []inspectResult{}
			failed := false
			for _, path := range args {
				result, err := inspectImage(path)
				if err != nil {
					logger.Error("inspecting image failed", "path", path, "error", err)
					failed = true
					continue
				}
				results = append(results, result)
			}

			if err := printInspect(results, format); err != nil {
				return err
			}
			if failed {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func inspectImage(path string) (inspectResult, error) {
	opened, err := image.Open(path)
	if err != nil {
		return inspectResult{}, err
	}
	entries, err := image.ListEntries(path)
	if err != nil {
		return inspectResult{}, err
	}

	manifest := opened.Manifest()
	result := inspectResult{
		Path:              path,
		Name:              manifest.Name,
		Version:           manifest.Version,
		VersionName:       manifest.VersionName,
		ProvideSharedLibs: manifest.ProvideSharedLibs,
		KeyFingerprint:    image.KeyFingerprint(opened.PublicKey()),
		Entries:           make([]inspectEntry, 0, len(entries)),
	}
	if manifest.Compression != nil {
		result.Compression = &inspectOrigin{
			Codec:          manifest.Compression.Codec.String(),
			OriginalDigest: manifest.Compression.OriginalDigest,
			OriginalSize:   manifest.Compression.OriginalSize,
			Decompressible: opened.ValidateCompressed() == nil,
		}
	} else {
		result.PayloadOffset = opened.PayloadOffset()
		result.PayloadSize = opened.PayloadSize()
	}
	for _, entry := range entries {
		result.Entries = append(result.Entries, inspectEntry{Name: entry.Name, Size: entry.Size, Offset: entry.Offset})
	}
	return result, nil
}

func printInspect(results []inspectResult, format cli.OutputFormat) error {
	if format != cli.OutputText {
		return cli.WriteStructured(stdout, format, results)
	}
	for i, result := range results {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
		fmt.Fprintf(writer, "path:\t%s\n", result.Path)
		fmt.Fprintf(writer, "name:\t%s\n", result.Name)
		fmt.Fprintf(writer, "version:\t%d\n", result.Version)
		if result.VersionName != "" {
			fmt.Fprintf(writer, "version name:\t%s\n", result.VersionName)
		}
		fmt.Fprintf(writer, "shared libs:\t%t\n", result.ProvideSharedLibs)
		fmt.Fprintf(writer, "key:\t%s\n", result.KeyFingerprint)
		if result.Compression != nil {
			fmt.Fprintf(writer, "compression:\t%s\n", result.Compression.Codec)
			fmt.Fprintf(writer, "original:\t%s (%d bytes)\n", result.Compression.OriginalDigest, result.Compression.OriginalSize)
			fmt.Fprintf(writer, "decompressible:\t%t\n", result.Compression.Decompressible)
		} else {
			fmt.Fprintf(writer, "payload:\toffset %d, %d bytes\n", result.PayloadOffset, result.PayloadSize)
		}
		for _, entry := range result.Entries {
			fmt.Fprintf(writer, "entry:\t%s\t%d bytes at %d\n", entry.Name, entry.Size, entry.Offset)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return nil
}
