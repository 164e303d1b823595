// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/moduled/lib/atomicfile"
)

// Decompress extracts the plain image embedded in a compressed image
// to destination. The output is streamed to a temporary file beside
// destination, checked against the manifest's digest and size, opened
// as an image and checked for the same name, version, and public key,
// and only then renamed into place. On any failure destination is left
// untouched.
func (image *Image) Decompress(destination string) error {
	if !image.IsCompressed() {
		return fmt.Errorf("decompressing %s: %w", image.path, ErrNotCompressed)
	}
	if err := image.ValidateCompressed(); err != nil {
		return err
	}
	compression := image.manifest.Compression
	expectedDigest, err := ParseDigest(compression.OriginalDigest)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}

	reader, err := zip.OpenReader(image.path)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}
	defer reader.Close()

	entryName := originalEntryName(compression.Codec)
	var original *zip.File
	for _, file := range reader.File {
		if file.Name == entryName {
			original = file
			break
		}
	}
	if original == nil {
		return fmt.Errorf("decompressing %s: %w: no %s entry", image.path, ErrMissingPayload, entryName)
	}
	compressed, err := original.Open()
	if err != nil {
		return fmt.Errorf("decompressing %s: opening %s: %w", image.path, entryName, err)
	}
	defer compressed.Close()

	decompressor, release, err := newDecompressor(compression.Codec, compressed)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}
	defer release()

	output, err := atomicfile.Create(destination)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}
	defer output.Abort()

	hasher := blake3.New()
	// Read one byte past the recorded size so an oversized stream is
	// detected without writing it all out.
	written, err := io.Copy(io.MultiWriter(output, hasher), io.LimitReader(decompressor, compression.OriginalSize+1))
	if err != nil {
		return fmt.Errorf("decompressing %s to %s: %w", image.path, destination, err)
	}
	if written != compression.OriginalSize {
		return fmt.Errorf("decompressing %s: %w: wrote %d bytes, manifest records %d",
			image.path, ErrDigestMismatch, written, compression.OriginalSize)
	}
	var actualDigest Digest
	copy(actualDigest[:], hasher.Sum(nil))
	if actualDigest != expectedDigest {
		return fmt.Errorf("decompressing %s: %w: got %s, manifest records %s",
			image.path, ErrDigestMismatch, actualDigest, expectedDigest)
	}

	if err := output.Sync(); err != nil {
		return fmt.Errorf("decompressing %s: syncing output: %w", image.path, err)
	}
	decompressed, err := Open(output.Name())
	if err != nil {
		return fmt.Errorf("decompressing %s: output is not a valid image: %w", image.path, err)
	}
	if err := checkSameIdentity(image, decompressed); err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}

	if err := output.Chmod(0644); err != nil {
		return fmt.Errorf("decompressing %s: %w", image.path, err)
	}
	return output.Commit()
}

func checkSameIdentity(compressed, decompressed *Image) error {
	if decompressed.IsCompressed() {
		return fmt.Errorf("embedded original of %s is itself compressed", compressed.Name())
	}
	if decompressed.Name() != compressed.Name() {
		return fmt.Errorf("embedded original is named %q, want %q", decompressed.Name(), compressed.Name())
	}
	if decompressed.Version() != compressed.Version() {
		return fmt.Errorf("embedded original of %s has version %d, want %d",
			compressed.Name(), decompressed.Version(), compressed.Version())
	}
	if !bytes.Equal(decompressed.PublicKey(), compressed.PublicKey()) {
		return fmt.Errorf("embedded original of %s bundles a different public key", compressed.Name())
	}
	return nil
}
