// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagetest builds package image fixtures for tests.
package imagetest

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/moduled/lib/codec"
	"github.com/bureau-foundation/moduled/lib/image"
)

// Module describes a fixture image.
type Module struct {
	Name              string
	Version           int64
	VersionName       string
	Key               []byte
	ProvideSharedLibs bool

	// Payload defaults to a few KiB derived from Name and Version.
	Payload []byte
}

// Key returns a deterministic fake public key for label. Different
// labels give different keys.
func Key(label string) []byte {
	return []byte("moduled-test-key:" + label)
}

func (module Module) manifest() image.Manifest {
	return image.Manifest{
		Name:              module.Name,
		Version:           module.Version,
		VersionName:       module.VersionName,
		ProvideSharedLibs: module.ProvideSharedLibs,
	}
}

func (module Module) key() []byte {
	if module.Key == nil {
		return Key("default")
	}
	return module.Key
}

func (module Module) payload() []byte {
	if module.Payload != nil {
		return module.Payload
	}
	seed := []byte(module.Name + "\x00")
	seed = append(seed, byte(module.Version), byte(module.Version>>8))
	return bytes.Repeat(seed, 4096/len(seed)+1)
}

// WritePlain writes a plain image for module to directory/fileName and
// returns its path.
func WritePlain(t testing.TB, directory, fileName string, module Module) string {
	t.Helper()
	path := filepath.Join(directory, fileName)
	if err := image.WritePlain(path, module.manifest(), module.key(), bytes.NewReader(module.payload())); err != nil {
		t.Fatalf("writing plain image %s: %v", path, err)
	}
	return path
}

// WriteCompressed writes a compressed image for module, using codec, to
// directory/fileName and returns its path.
func WriteCompressed(t testing.TB, directory, fileName string, module Module, codec image.Codec) string {
	t.Helper()
	plainPath := WritePlain(t, t.TempDir(), module.Name+image.Extension, module)
	path := filepath.Join(directory, fileName)
	if err := image.Compress(plainPath, path, codec); err != nil {
		t.Fatalf("compressing image %s: %v", path, err)
	}
	return path
}

// WriteCompressedWithoutOriginal writes a compressed image whose
// manifest is valid but which carries no embedded original.
func WriteCompressedWithoutOriginal(t testing.TB, directory, fileName string, module Module) string {
	t.Helper()
	manifest := module.manifest()
	manifest.Compression = &image.Compression{
		Codec:          image.CodecZstd,
		OriginalDigest: image.Digest{}.String(),
		OriginalSize:   1,
	}
	manifestBytes, err := codec.Marshal(manifest)
	if err != nil {
		t.Fatalf("encoding manifest: %v", err)
	}
	path := filepath.Join(directory, fileName)
	WriteArchive(t, path, map[string][]byte{
		image.ManifestEntry:  manifestBytes,
		image.PublicKeyEntry: module.key(),
	})
	return path
}

// WriteArchive writes a zip archive with the given stored entries to
// path, for tests that need malformed containers.
func WriteArchive(t testing.TB, path string, entries map[string][]byte) {
	t.Helper()
	var buffer bytes.Buffer
	archive := zip.NewWriter(&buffer)
	for name, data := range entries {
		entry, err := archive.CreateRaw(&zip.FileHeader{
			Name:               name,
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE(data),
			CompressedSize64:   uint64(len(data)),
			UncompressedSize64: uint64(len(data)),
		})
		if err != nil {
			t.Fatalf("creating entry %s: %v", name, err)
		}
		if _, err := entry.Write(data); err != nil {
			t.Fatalf("writing entry %s: %v", name, err)
		}
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
