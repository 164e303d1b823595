// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/moduled/lib/image"
)

// AddPreInstalledApex scans directories in order and records every
// pre-installed image by module name. Missing directories are skipped.
// Within a directory, plain and compressed images are processed in
// file-name order.
//
// The first image that fails to open, or that is compressed without a
// decompressible payload, stops the scan and is returned as an
// *ImageError wrapping ErrInvalidImage. Images recorded earlier in the
// same call (from earlier files or directories) stay recorded: there is
// no rollback, and callers that need all-or-nothing semantics must
// discard the Repository on error.
//
// Rescanning is idempotent. A module name already recorded from a
// different path, or a recorded path whose public key has changed,
// panics with *InvariantViolation after logging the conflict. The
// first path seen for a name (across all calls, in directory order)
// is the recorded one.
func (r *Repository) AddPreInstalledApex(directories []string) error {
	for _, directory := range directories {
		paths, err := listImages(directory, image.Extension, image.CompressedExtension)
		if err != nil {
			return fmt.Errorf("scanning pre-installed directory %s: %w", directory, err)
		}
		if paths == nil {
			r.logger.Debug("pre-installed directory absent", "path", directory)
			continue
		}

		for _, result := range r.openAll(paths) {
			if result.err != nil {
				return &ImageError{
					Path: result.path,
					Err:  fmt.Errorf("%w: %w", ErrInvalidImage, result.err),
				}
			}
			if err := r.addPreInstalled(result.image); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) addPreInstalled(candidate Image) error {
	name := candidate.Name()
	if err := candidate.ValidateCompressed(); err != nil {
		return &ImageError{
			Name: name,
			Path: candidate.Path(),
			Err:  fmt.Errorf("%w: %w", ErrInvalidImage, err),
		}
	}

	recorded, ok := r.preInstalled[name]
	if !ok {
		r.logger.Debug("recorded pre-installed module",
			"module", name,
			"path", candidate.Path(),
			"version", candidate.Version(),
			"compressed", candidate.IsCompressed(),
		)
		r.preInstalled[name] = candidate
		return nil
	}

	if recorded.Path() != candidate.Path() {
		if r.ignoreDuplicates {
			r.logger.Info("ignoring duplicate pre-installed module",
				"module", name,
				"recorded_path", recorded.Path(),
				"path", candidate.Path(),
			)
			return nil
		}
		r.violate(&InvariantViolation{
			Kind:         DuplicateModule,
			Module:       name,
			RecordedPath: recorded.Path(),
			ScannedPath:  candidate.Path(),
		})
	}

	if !sameKey(recorded, candidate) {
		r.logger.Error("pre-installed public key changed since first scan",
			"module", name,
			"recorded_key", keyFingerprint(recorded.PublicKey()),
			"key", keyFingerprint(candidate.PublicKey()),
		)
		r.violate(&InvariantViolation{
			Kind:         PublicKeyChanged,
			Module:       name,
			RecordedPath: recorded.Path(),
			ScannedPath:  candidate.Path(),
		})
	}

	// Same path, same key: already recorded.
	return nil
}

// violate logs and panics. Never returns.
func (r *Repository) violate(violation *InvariantViolation) {
	r.logger.Error("pre-installed invariant violated",
		"kind", violation.Kind.String(),
		"module", violation.Module,
		"recorded_path", violation.RecordedPath,
		"path", violation.ScannedPath,
	)
	panic(violation)
}

// AddDataApex scans directory for plain data images and selects, per
// module name, the one data image to use. The previous data selection
// is discarded, never merged.
//
// A candidate is considered only when a pre-installed image exists for
// its name and bundles the same public key; anything else is skipped
// and logged, as are images that fail to open and compressed images.
// Among the remaining candidates for a name the winner is the higher
// version; at equal versions an image that is not a decompressed
// original; then the lexicographically smaller path.
//
// A missing directory yields an empty selection. Only a failure to
// list the directory is returned, and leaves the previous selection in
// place.
func (r *Repository) AddDataApex(directory string) error {
	paths, err := listImages(directory, image.Extension)
	if err != nil {
		return fmt.Errorf("scanning data directory %s: %w", directory, err)
	}

	selected := make(map[string]Image)
	for _, result := range r.openAll(paths) {
		if result.err != nil {
			r.logger.Warn("skipping data image that failed to open",
				"path", result.path,
				"error", result.err,
			)
			continue
		}
		candidate := result.image
		name := candidate.Name()

		if candidate.IsCompressed() {
			r.logger.Debug("skipping compressed data image", "module", name, "path", candidate.Path())
			continue
		}
		preInstalled, ok := r.preInstalled[name]
		if !ok {
			r.logger.Warn("skipping data image with no pre-installed module",
				"module", name,
				"path", candidate.Path(),
			)
			continue
		}
		if !sameKey(preInstalled, candidate) {
			r.logger.Warn("skipping data image with mismatched public key",
				"module", name,
				"path", candidate.Path(),
				"preinstalled_key", keyFingerprint(preInstalled.PublicKey()),
				"key", keyFingerprint(candidate.PublicKey()),
			)
			continue
		}

		current, ok := selected[name]
		if !ok || r.preferred(candidate, current) {
			selected[name] = candidate
		}
	}

	r.data = selected
	return nil
}

// preferred reports whether candidate should replace current as the
// data image for their shared name.
func (r *Repository) preferred(candidate, current Image) bool {
	if candidate.Version() != current.Version() {
		return candidate.Version() > current.Version()
	}
	candidateDecompressed := r.IsDecompressedApex(candidate)
	currentDecompressed := r.IsDecompressedApex(current)
	if candidateDecompressed != currentDecompressed {
		return currentDecompressed
	}
	return candidate.Path() < current.Path()
}

// listImages returns the regular files (or symlinks) in directory with
// one of the given extensions, in file-name order. A missing directory
// returns nil with no error.
func listImages(directory string, extensions ...string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
			continue
		}
		extension := filepath.Ext(entry.Name())
		for _, wanted := range extensions {
			if extension == wanted {
				paths = append(paths, filepath.Join(directory, entry.Name()))
				break
			}
		}
	}
	return paths, nil
}

type openResult struct {
	path  string
	image Image
	err   error
}

// openAll opens paths with bounded parallelism and returns results in
// the order of paths. It never touches the repository maps.
func (r *Repository) openAll(paths []string) []openResult {
	results := make([]openResult, len(paths))
	var group errgroup.Group
	group.SetLimit(r.openConcurrency)
	for i, path := range paths {
		group.Go(func() error {
			opened, err := r.opener.Open(path)
			if err == nil && opened == nil {
				err = errors.New("opener returned no image")
			}
			results[i] = openResult{path: path, image: opened, err: err}
			return nil
		})
	}
	group.Wait()
	return results
}
