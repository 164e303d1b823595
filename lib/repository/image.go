// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"github.com/bureau-foundation/moduled/lib/image"
)

// Image is an opened package image as the repository consumes it.
// Two Images with the same Name and Path are the same package
// instance.
type Image interface {
	Name() string
	Version() int64
	VersionName() string
	Path() string
	PublicKey() []byte
	IsCompressed() bool
	ProvidesSharedLibs() bool

	// ValidateCompressed reports whether a compressed image carries a
	// decompressible payload. Always nil for plain images.
	ValidateCompressed() error

	// Decompress writes the embedded plain image to destination.
	Decompress(destination string) error
}

// Opener opens the image at a path.
type Opener interface {
	Open(path string) (Image, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Image, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Image, error) { return f(path) }

// ImageOpener opens images with the image package.
var ImageOpener Opener = OpenerFunc(func(path string) (Image, error) {
	opened, err := image.Open(path)
	if err != nil {
		// Return an untyped nil so callers' nil checks hold.
		return nil, err
	}
	return opened, nil
})

var _ Image = (*image.Image)(nil)
