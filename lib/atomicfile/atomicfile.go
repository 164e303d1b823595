// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is a temporary file that becomes visible at its target path
// only when Commit succeeds. Readers of the target path see either the
// previous content or the complete new content, never a partial write.
type File struct {
	*os.File

	path     string
	finished bool
}

// Create opens a temporary file in the same directory as path (so the
// final rename stays within one filesystem). The parent directory must
// already exist. The file is created with mode 0600; use Chmod before
// Commit for a different mode.
func Create(path string) (*File, error) {
	directory, base := filepath.Split(path)
	if directory == "" {
		directory = "."
	}
	temporary, err := os.CreateTemp(directory, "."+base+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	return &File{File: temporary, path: path}, nil
}

// TargetPath returns the path the file will occupy after Commit.
func (file *File) TargetPath() string { return file.path }

// Commit syncs, closes, and renames the temporary file into place, then
// syncs the parent directory so the rename survives power loss. On
// failure the temporary file is removed and the target is untouched.
func (file *File) Commit() error {
	if file.finished {
		return fmt.Errorf("committing %s: already finished", file.path)
	}
	file.finished = true
	temporaryPath := file.Name()

	// Sync before close, close before rename.
	if err := file.Sync(); err != nil {
		file.File.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file for %s: %w", file.path, err)
	}
	if err := file.File.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", file.path, err)
	}
	if err := os.Rename(temporaryPath, file.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", file.path, err)
	}

	parentDirectory, err := os.Open(filepath.Dir(file.path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Abort closes and removes the temporary file. Safe to call after
// Commit (it does nothing), so callers can defer it unconditionally.
func (file *File) Abort() {
	if file.finished {
		return
	}
	file.finished = true
	file.File.Close()
	os.Remove(file.Name())
}

// WriteFile atomically replaces the file at path with data and sets
// its mode to perm.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	file, err := Create(path)
	if err != nil {
		return err
	}
	defer file.Abort()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Chmod(perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	return file.Commit()
}
