// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/moduled/lib/image"
)

// IsDecompressed reports whether path is a decompressed original with
// respect to decompressionDir: it lies inside that directory, or the
// directory holds a file with the same base name that is the same
// file (same device and inode). A same-named copy with its own inode
// is not decompressed, and neither is a hard link under another name.
//
// The result depends only on the two paths and the filesystem; no
// repository state is consulted.
func IsDecompressed(decompressionDir, path string) bool {
	if decompressionDir == "" || path == "" {
		return false
	}
	directory, err := filepath.Abs(decompressionDir)
	if err != nil {
		return false
	}
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	if relative, err := filepath.Rel(directory, absolutePath); err == nil && isWithin(relative) {
		return true
	}

	counterpart, err := os.Stat(filepath.Join(directory, filepath.Base(absolutePath)))
	if err != nil {
		return false
	}
	info, err := os.Stat(absolutePath)
	if err != nil {
		return false
	}
	return os.SameFile(info, counterpart)
}

// isWithin reports whether a filepath.Rel result names something below
// the base directory (not the directory itself, not outside it).
func isWithin(relative string) bool {
	if relative == "." || relative == ".." {
		return false
	}
	return !strings.HasPrefix(relative, ".."+string(filepath.Separator))
}

// DecompressedPath returns the conventional location of the
// decompressed original for a module version: <dir>/<name>@<version>
// with the plain image extension. Activation hard-links this file into
// the data directory under the same name.
func DecompressedPath(decompressionDir, name string, version int64) string {
	return filepath.Join(decompressionDir, name+"@"+strconv.FormatInt(version, 10)+image.Extension)
}
