// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups for a module name the
	// repository does not know.
	ErrNotFound = errors.New("repository: module not found")

	// ErrInvalidImage is wrapped by every *ImageError: the image could
	// not be opened, or is compressed without a decompressible payload.
	ErrInvalidImage = errors.New("repository: invalid image")
)

// ImageError reports a recoverable failure to load one image. Name is
// empty when the image could not be opened far enough to read it.
type ImageError struct {
	Name string
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("image %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("image %s (%s): %v", e.Path, e.Name, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// ViolationKind identifies which pre-installed invariant was broken.
type ViolationKind int

const (
	// DuplicateModule: two pre-installed images declare the same module
	// name from different paths.
	DuplicateModule ViolationKind = iota + 1

	// PublicKeyChanged: a pre-installed path was rescanned and now
	// bundles a different public key than when first recorded.
	PublicKeyChanged
)

func (k ViolationKind) String() string {
	switch k {
	case DuplicateModule:
		return "duplicate pre-installed module"
	case PublicKeyChanged:
		return "pre-installed public key changed"
	default:
		return fmt.Sprintf("ViolationKind(%d)", int(k))
	}
}

// InvariantViolation is the panic value raised when the pre-installed
// image set is inconsistent. It is never returned as an error: the
// factory partitions are assumed immutable and unambiguous, and a
// process that observes otherwise must not continue. It implements
// error so that a top-level recover can log it uniformly.
type InvariantViolation struct {
	Kind         ViolationKind
	Module       string
	RecordedPath string
	ScannedPath  string
}

func (v *InvariantViolation) Error() string {
	switch v.Kind {
	case DuplicateModule:
		return fmt.Sprintf("%s %q: recorded from %s, found again at %s",
			v.Kind, v.Module, v.RecordedPath, v.ScannedPath)
	default:
		return fmt.Sprintf("%s for %q at %s", v.Kind, v.Module, v.ScannedPath)
	}
}
