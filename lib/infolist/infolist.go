// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package infolist

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/moduled/lib/repository"
)

// FileName is the default name of the active-module list, written
// under the active mount root.
const FileName = "module-info-list.cbor"

// ErrMultipleImages is returned by FromRepository when a module name
// has more than one image. The list names exactly one image per
// module.
var ErrMultipleImages = errors.New("infolist: multiple images for module")

// Record describes one active module.
type Record struct {
	ModuleName string `cbor:"module_name" yaml:"module_name"`

	// ModulePath is the image path relative to the root the list was
	// built for, always starting with "/".
	ModulePath string `cbor:"module_path" yaml:"module_path"`

	PreinstalledModulePath string `cbor:"preinstalled_module_path" yaml:"preinstalled_module_path"`
	VersionCode            int64  `cbor:"version_code" yaml:"version_code"`
	VersionName            string `cbor:"version_name" yaml:"version_name"`
	IsFactory              bool   `cbor:"is_factory" yaml:"is_factory"`
	IsActive               bool   `cbor:"is_active" yaml:"is_active"`

	// LastUpdateMillis is nil for image-backed records, which carry
	// no update history, and zero for flattened packages.
	LastUpdateMillis *int64 `cbor:"last_update_millis,omitempty" yaml:"last_update_millis,omitempty"`

	ProvideSharedLibs bool `cbor:"provide_shared_libs" yaml:"provide_shared_libs"`
}

// List is the active-module list.
type List struct {
	Modules []Record `cbor:"modules" yaml:"modules"`
}

// Lookup returns the record for name.
func (l *List) Lookup(name string) (Record, bool) {
	for _, record := range l.Modules {
		if record.ModuleName == name {
			return record, true
		}
	}
	return Record{}, false
}

// Source is the part of a repository the list is built from.
type Source interface {
	AllApexFilesByName() map[string][]repository.Image
}

// FromRepository builds a list with one factory, active record per
// module in source, ordered by module name. Paths have root stripped.
// Fails with ErrMultipleImages when any name has more than one image.
func FromRepository(source Source, root string) (*List, error) {
	byName := source.AllApexFilesByName()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	list := &List{Modules: make([]Record, 0, len(names))}
	for _, name := range names {
		images := byName[name]
		if len(images) != 1 {
			return nil, fmt.Errorf("%w: %s has %d", ErrMultipleImages, name, len(images))
		}
		module := images[0]
		path := relativeToRoot(module.Path(), root)
		list.Modules = append(list.Modules, Record{
			ModuleName:             module.Name(),
			ModulePath:             path,
			PreinstalledModulePath: path,
			VersionCode:            module.Version(),
			VersionName:            module.VersionName(),
			IsFactory:              true,
			IsActive:               true,
			ProvideSharedLibs:      module.ProvidesSharedLibs(),
		})
	}
	return list, nil
}

// Build scans the pre-installed directories under root and returns
// the resulting list. Duplicate definitions are tolerated: the first
// image found for a name wins, so multi-installed modules produce a
// list instead of an abort. When no images are found the directories
// are searched again for flattened packages.
//
// directories must carry root as their prefix; see ResolveRoot.
func Build(root string, directories []string, logger *slog.Logger) (*List, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repo := repository.New(nil,
		repository.WithIgnoreDuplicates(),
		repository.WithLogger(logger),
	)
	if err := repo.AddPreInstalledApex(directories); err != nil {
		return nil, fmt.Errorf("scanning pre-installed directories: %w", err)
	}

	list, err := FromRepository(repo, root)
	if err != nil {
		return nil, err
	}
	if len(list.Modules) == 0 {
		list = LoadFlattened(root, directories, logger)
	}
	logger.Debug("built active-module list", "root", root, "modules", len(list.Modules))
	return list, nil
}

// ResolveRoot returns the absolute real path of root. Directories
// passed to Build should be joined under the result so that stripping
// it from image paths yields device paths.
func ResolveRoot(root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving root directory %s: %w", root, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("resolving root directory %s: %w", root, err)
	}
	return resolved, nil
}

// relativeToRoot returns path as seen from inside root. Paths outside
// root are returned unchanged.
func relativeToRoot(path, root string) string {
	if root == "" {
		return path
	}
	relative, err := filepath.Rel(root, path)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.Join("/", relative)
}
