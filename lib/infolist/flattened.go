// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package infolist

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bureau-foundation/moduled/lib/image"
)

// LoadFlattened returns records for flattened packages: directories
// directly under each of directories that hold an unpacked
// manifest.cbor. Subdirectories are visited in name order so the
// result does not depend on directory iteration order. Unreadable
// manifests are logged and skipped.
func LoadFlattened(root string, directories []string, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	var zero int64
	list := &List{Modules: []Record{}}
	for _, directory := range directories {
		entries, err := os.ReadDir(directory)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Error("scanning for flattened packages failed", "path", directory, "error", err)
			}
			continue
		}
		var packages []string
		for _, entry := range entries {
			if entry.IsDir() {
				packages = append(packages, filepath.Join(directory, entry.Name()))
			}
		}
		sort.Strings(packages)

		for _, packageDirectory := range packages {
			manifestPath := filepath.Join(packageDirectory, image.ManifestEntry)
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				logger.Error("reading flattened manifest failed", "path", manifestPath, "error", err)
				continue
			}
			manifest, err := image.DecodeManifest(data)
			if err != nil {
				logger.Error("decoding flattened manifest failed", "path", manifestPath, "error", err)
				continue
			}
			path := relativeToRoot(packageDirectory, root)
			list.Modules = append(list.Modules, Record{
				ModuleName:             manifest.Name,
				ModulePath:             path,
				PreinstalledModulePath: path,
				VersionCode:            manifest.Version,
				VersionName:            manifest.VersionName,
				IsFactory:              true,
				IsActive:               true,
				LastUpdateMillis:       &zero,
			})
		}
	}
	return list
}
