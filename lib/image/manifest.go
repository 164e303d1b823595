// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/moduled/lib/codec"
)

// Manifest describes a package image. It is stored CBOR-encoded in the
// ManifestEntry of every image container and, for flattened packages,
// as a standalone file.
type Manifest struct {
	// Name is the module name, unique across the system. Selection and
	// key continuity are keyed by it.
	Name string `cbor:"name"`

	// Version is the monotonically increasing version code. Higher
	// versions win data-directory selection.
	Version int64 `cbor:"version"`

	// VersionName is the human-readable version label.
	VersionName string `cbor:"version_name,omitempty"`

	// ProvideSharedLibs marks modules that export shared libraries to
	// other modules.
	ProvideSharedLibs bool `cbor:"provide_shared_libs,omitempty"`

	// Compression is set only on compressed images and describes the
	// embedded original.
	Compression *Compression `cbor:"compression,omitempty"`
}

// Compression describes the plain image embedded in a compressed
// image.
type Compression struct {
	// Codec is the algorithm the original was compressed with.
	Codec Codec `cbor:"codec"`

	// OriginalDigest is the hex-encoded BLAKE3 digest of the complete
	// plain image file. Decompression output must match it exactly.
	OriginalDigest string `cbor:"original_digest"`

	// OriginalSize is the size in bytes of the plain image file.
	OriginalSize int64 `cbor:"original_size"`
}

// Validate checks the fields every manifest must carry.
func (manifest *Manifest) Validate() error {
	if manifest.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidManifest)
	}
	if strings.ContainsAny(manifest.Name, "/@\x00") {
		return fmt.Errorf("%w: name %q contains a reserved character", ErrInvalidManifest, manifest.Name)
	}
	if manifest.Version < 0 {
		return fmt.Errorf("%w: %s has negative version %d", ErrInvalidManifest, manifest.Name, manifest.Version)
	}
	if manifest.Compression != nil {
		if _, err := ParseCodec(manifest.Compression.Codec.String()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidManifest, manifest.Name, err)
		}
		if len(manifest.Compression.OriginalDigest) != 64 {
			return fmt.Errorf("%w: %s has malformed original digest %q",
				ErrInvalidManifest, manifest.Name, manifest.Compression.OriginalDigest)
		}
	}
	return nil
}

// DecodeManifest decodes and validates a CBOR manifest.
func DecodeManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// EncodeManifest validates and encodes a manifest.
func EncodeManifest(manifest Manifest) ([]byte, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(manifest)
}
