// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

const (
	// Extension is the file extension of plain images.
	Extension = ".mpkg"

	// CompressedExtension is the file extension of compressed images.
	CompressedExtension = ".cmpkg"

	// ManifestEntry holds the CBOR-encoded Manifest. Flattened packages
	// carry a file with the same name at the top of their directory.
	ManifestEntry = "manifest.cbor"

	// PublicKeyEntry holds the raw bundled public key.
	PublicKeyEntry = "public_key"

	// PayloadEntry holds the filesystem payload of a plain image. It is
	// always stored uncompressed so a loop device can expose it directly
	// by byte offset.
	PayloadEntry = "payload.img"

	// OriginalEntryPrefix prefixes the entry that holds the compressed
	// plain image inside a compressed image. The codec name follows.
	OriginalEntryPrefix = "original" + Extension + "."
)

var (
	// ErrInvalidManifest is returned when a manifest is missing,
	// undecodable, or fails validation.
	ErrInvalidManifest = errors.New("image: invalid manifest")

	// ErrMissingPayload is returned by ValidateCompressed when a
	// compressed image carries no decompressible original, and by Open
	// when a plain image carries no payload.
	ErrMissingPayload = errors.New("image: missing payload")

	// ErrDigestMismatch is returned by Decompress when the decompressed
	// output does not match the digest or size in the manifest.
	ErrDigestMismatch = errors.New("image: decompressed digest mismatch")

	// ErrNotCompressed is returned by Decompress on a plain image.
	ErrNotCompressed = errors.New("image: not a compressed image")
)

// Image is an opened package image. All fields are read during Open;
// the underlying file is not held open afterwards, so an Image stays
// valid (as a description) even if the file is later replaced.
type Image struct {
	path      string
	manifest  Manifest
	publicKey []byte

	// Plain images: byte range of PayloadEntry within the file.
	payloadOffset int64
	payloadSize   int64

	// Compressed images: whether the original entry for the manifest's
	// codec is present and non-empty.
	hasOriginal bool
}

// Open reads and validates the image container at path. A compressed
// image without its original is still opened successfully so that
// callers can report it through ValidateCompressed; a plain image
// without a payload is rejected here.
func Open(path string) (*Image, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer reader.Close()

	entries := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		entries[file.Name] = file
	}

	manifestFile, ok := entries[ManifestEntry]
	if !ok {
		return nil, fmt.Errorf("image %s: %w: no %s entry", path, ErrInvalidManifest, ManifestEntry)
	}
	manifestBytes, err := readEntry(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("image %s: reading manifest: %w", path, err)
	}
	manifest, err := DecodeManifest(manifestBytes)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}

	keyFile, ok := entries[PublicKeyEntry]
	if !ok {
		return nil, fmt.Errorf("image %s: no %s entry", path, PublicKeyEntry)
	}
	publicKey, err := readEntry(keyFile)
	if err != nil {
		return nil, fmt.Errorf("image %s: reading public key: %w", path, err)
	}
	if len(publicKey) == 0 {
		return nil, fmt.Errorf("image %s: public key is empty", path)
	}

	image := &Image{
		path:      path,
		manifest:  manifest,
		publicKey: publicKey,
	}

	if manifest.Compression != nil {
		original, ok := entries[originalEntryName(manifest.Compression.Codec)]
		image.hasOriginal = ok && original.UncompressedSize64 > 0
		return image, nil
	}

	payload, ok := entries[PayloadEntry]
	if !ok {
		return nil, fmt.Errorf("image %s: %w: no %s entry", path, ErrMissingPayload, PayloadEntry)
	}
	if payload.Method != zip.Store {
		return nil, fmt.Errorf("image %s: %s must be stored uncompressed (method %d)", path, PayloadEntry, payload.Method)
	}
	offset, err := payload.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("image %s: locating payload: %w", path, err)
	}
	image.payloadOffset = offset
	image.payloadSize = int64(payload.UncompressedSize64)
	return image, nil
}

// readEntry reads a small metadata entry into memory.
func readEntry(file *zip.File) ([]byte, error) {
	const maximumMetadataSize = 1 << 20
	if file.UncompressedSize64 > maximumMetadataSize {
		return nil, fmt.Errorf("entry %s is %d bytes, exceeds %d", file.Name, file.UncompressedSize64, maximumMetadataSize)
	}
	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Name returns the module name from the manifest.
func (image *Image) Name() string { return image.manifest.Name }

// Version returns the manifest version code.
func (image *Image) Version() int64 { return image.manifest.Version }

// VersionName returns the human-readable version label.
func (image *Image) VersionName() string { return image.manifest.VersionName }

// Path returns the path the image was opened from.
func (image *Image) Path() string { return image.path }

// PublicKey returns the bundled public key. Callers must not modify
// the returned slice.
func (image *Image) PublicKey() []byte { return image.publicKey }

// IsCompressed reports whether this is a compressed image.
func (image *Image) IsCompressed() bool { return image.manifest.Compression != nil }

// ProvidesSharedLibs reports the manifest's shared-libraries flag.
func (image *Image) ProvidesSharedLibs() bool { return image.manifest.ProvideSharedLibs }

// Manifest returns a copy of the decoded manifest.
func (image *Image) Manifest() Manifest {
	manifest := image.manifest
	if manifest.Compression != nil {
		compression := *manifest.Compression
		manifest.Compression = &compression
	}
	return manifest
}

// PayloadOffset returns the byte offset of the payload within the
// image file. Zero for compressed images.
func (image *Image) PayloadOffset() int64 { return image.payloadOffset }

// PayloadSize returns the payload length in bytes. Zero for
// compressed images.
func (image *Image) PayloadSize() int64 { return image.payloadSize }

// ValidateCompressed checks that a compressed image carries a
// decompressible original. Plain images always pass.
func (image *Image) ValidateCompressed() error {
	if !image.IsCompressed() {
		return nil
	}
	if !image.hasOriginal {
		return fmt.Errorf("image %s: %w: no %s entry",
			image.path, ErrMissingPayload, originalEntryName(image.manifest.Compression.Codec))
	}
	return nil
}

// EntryInfo describes one entry of an image container.
type EntryInfo struct {
	Name   string
	Size   int64
	Offset int64
}

// ListEntries returns the entries of the container at path in archive
// order, with the byte offset of each entry's data.
func ListEntries(path string) ([]EntryInfo, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer reader.Close()

	entries := make([]EntryInfo, 0, len(reader.File))
	for _, file := range reader.File {
		offset, err := file.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("image %s: locating %s: %w", path, file.Name, err)
		}
		entries = append(entries, EntryInfo{
			Name:   file.Name,
			Size:   int64(file.UncompressedSize64),
			Offset: offset,
		})
	}
	return entries, nil
}
