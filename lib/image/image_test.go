// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/moduled/lib/codec"
	"github.com/bureau-foundation/moduled/lib/image"
	"github.com/bureau-foundation/moduled/lib/image/imagetest"
)

func TestOpenPlain(t *testing.T) {
	directory := t.TempDir()
	payload := bytes.Repeat([]byte("filesystem"), 1000)
	path := imagetest.WritePlain(t, directory, "com.example.media.mpkg", imagetest.Module{
		Name:              "com.example.media",
		Version:           7,
		VersionName:       "7.0-beta",
		Key:               imagetest.Key("media"),
		ProvideSharedLibs: true,
		Payload:           payload,
	})

	opened, err := image.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Name() != "com.example.media" {
		t.Errorf("Name = %q, want %q", opened.Name(), "com.example.media")
	}
	if opened.Version() != 7 {
		t.Errorf("Version = %d, want 7", opened.Version())
	}
	if opened.VersionName() != "7.0-beta" {
		t.Errorf("VersionName = %q, want %q", opened.VersionName(), "7.0-beta")
	}
	if opened.Path() != path {
		t.Errorf("Path = %q, want %q", opened.Path(), path)
	}
	if !bytes.Equal(opened.PublicKey(), imagetest.Key("media")) {
		t.Errorf("PublicKey = %q, want %q", opened.PublicKey(), imagetest.Key("media"))
	}
	if opened.IsCompressed() {
		t.Error("IsCompressed = true for plain image")
	}
	if !opened.ProvidesSharedLibs() {
		t.Error("ProvidesSharedLibs = false, want true")
	}
	if err := opened.ValidateCompressed(); err != nil {
		t.Errorf("ValidateCompressed on plain image: %v", err)
	}
}

func TestPayloadRegion(t *testing.T) {
	directory := t.TempDir()
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 3000)
	path := imagetest.WritePlain(t, directory, "region.mpkg", imagetest.Module{
		Name:    "com.example.region",
		Version: 1,
		Payload: payload,
	})

	opened, err := image.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.PayloadOffset()%image.PayloadAlignment != 0 {
		t.Errorf("PayloadOffset = %d, not a multiple of %d", opened.PayloadOffset(), image.PayloadAlignment)
	}
	if opened.PayloadSize() != int64(len(payload)) {
		t.Errorf("PayloadSize = %d, want %d", opened.PayloadSize(), len(payload))
	}

	// The byte range handed to a loop device must be exactly the payload.
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open: %v", err)
	}
	defer file.Close()
	region := make([]byte, opened.PayloadSize())
	if _, err := io.ReadFull(io.NewSectionReader(file, opened.PayloadOffset(), opened.PayloadSize()), region); err != nil {
		t.Fatalf("reading payload region: %v", err)
	}
	if !bytes.Equal(region, payload) {
		t.Error("payload region does not match written payload")
	}
}

func TestCompressAndDecompress(t *testing.T) {
	for _, compression := range []image.Codec{image.CodecZstd, image.CodecLZ4, image.CodecXZ} {
		t.Run(compression.String(), func(t *testing.T) {
			directory := t.TempDir()
			module := imagetest.Module{
				Name:    "com.example.compressed",
				Version: 3,
				Key:     imagetest.Key("compressed"),
			}
			plainPath := imagetest.WritePlain(t, directory, "plain.mpkg", module)
			compressedPath := filepath.Join(directory, "compressed.cmpkg")
			if err := image.Compress(plainPath, compressedPath, compression); err != nil {
				t.Fatalf("Compress: %v", err)
			}

			compressed, err := image.Open(compressedPath)
			if err != nil {
				t.Fatalf("Open compressed: %v", err)
			}
			if !compressed.IsCompressed() {
				t.Fatal("IsCompressed = false for compressed image")
			}
			if err := compressed.ValidateCompressed(); err != nil {
				t.Fatalf("ValidateCompressed: %v", err)
			}
			if compressed.Manifest().Compression.Codec != compression {
				t.Errorf("codec = %s, want %s", compressed.Manifest().Compression.Codec, compression)
			}
			if compressed.Name() != module.Name || compressed.Version() != module.Version {
				t.Errorf("identity = %s@%d, want %s@%d",
					compressed.Name(), compressed.Version(), module.Name, module.Version)
			}

			outputPath := filepath.Join(directory, "com.example.compressed@3.mpkg")
			if err := compressed.Decompress(outputPath); err != nil {
				t.Fatalf("Decompress: %v", err)
			}

			want, err := os.ReadFile(plainPath)
			if err != nil {
				t.Fatalf("reading plain image: %v", err)
			}
			got, err := os.ReadFile(outputPath)
			if err != nil {
				t.Fatalf("reading decompressed image: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Error("decompressed image differs from the original plain image")
			}
		})
	}
}

func TestValidateCompressedMissingOriginal(t *testing.T) {
	directory := t.TempDir()
	path := imagetest.WriteCompressedWithoutOriginal(t, directory, "broken.cmpkg", imagetest.Module{
		Name:    "com.example.broken",
		Version: 1,
	})

	opened, err := image.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := opened.ValidateCompressed(); !errors.Is(err, image.ErrMissingPayload) {
		t.Errorf("ValidateCompressed error = %v, want ErrMissingPayload", err)
	}
	if err := opened.Decompress(filepath.Join(directory, "out.mpkg")); !errors.Is(err, image.ErrMissingPayload) {
		t.Errorf("Decompress error = %v, want ErrMissingPayload", err)
	}
	if _, err := os.Stat(filepath.Join(directory, "out.mpkg")); !os.IsNotExist(err) {
		t.Errorf("decompression output exists after failure (stat error %v)", err)
	}
}

func TestDecompressDigestMismatch(t *testing.T) {
	directory := t.TempDir()
	module := imagetest.Module{Name: "com.example.tampered", Version: 2}
	compressedPath := imagetest.WriteCompressed(t, directory, "tampered.cmpkg", module, image.CodecZstd)

	// Rebuild the container with the same original but a manifest that
	// records a different digest.
	original, err := image.Open(compressedPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	manifest := original.Manifest()
	manifest.Compression.OriginalDigest = image.Digest{1}.String()
	manifestBytes, err := codec.Marshal(manifest)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	entries := readEntries(t, compressedPath)
	entries[image.ManifestEntry] = manifestBytes
	tamperedPath := filepath.Join(directory, "rewritten.cmpkg")
	imagetest.WriteArchive(t, tamperedPath, entries)

	tampered, err := image.Open(tamperedPath)
	if err != nil {
		t.Fatalf("Open tampered: %v", err)
	}
	outputPath := filepath.Join(directory, "out.mpkg")
	if err := tampered.Decompress(outputPath); !errors.Is(err, image.ErrDigestMismatch) {
		t.Fatalf("Decompress error = %v, want ErrDigestMismatch", err)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Errorf("decompression output exists after digest mismatch (stat error %v)", err)
	}
	remaining, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("directory has %d entries after failed decompression, want 2 (no temporary leftovers)", len(remaining))
	}
}

func TestDecompressPlainImage(t *testing.T) {
	directory := t.TempDir()
	path := imagetest.WritePlain(t, directory, "plain.mpkg", imagetest.Module{Name: "com.example.plain", Version: 1})
	opened, err := image.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := opened.Decompress(filepath.Join(directory, "out.mpkg")); !errors.Is(err, image.ErrNotCompressed) {
		t.Errorf("Decompress error = %v, want ErrNotCompressed", err)
	}
}

func TestOpenRejectsMalformed(t *testing.T) {
	validManifest, err := codec.Marshal(image.Manifest{Name: "com.example.bad", Version: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	emptyName, err := codec.Marshal(image.Manifest{Version: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tests := []struct {
		name    string
		entries map[string][]byte
		wantErr error
	}{
		{
			name:    "no manifest",
			entries: map[string][]byte{image.PublicKeyEntry: []byte("key"), image.PayloadEntry: []byte("data")},
			wantErr: image.ErrInvalidManifest,
		},
		{
			name:    "undecodable manifest",
			entries: map[string][]byte{image.ManifestEntry: []byte{0xff}, image.PublicKeyEntry: []byte("key")},
			wantErr: image.ErrInvalidManifest,
		},
		{
			name:    "empty name",
			entries: map[string][]byte{image.ManifestEntry: emptyName, image.PublicKeyEntry: []byte("key")},
			wantErr: image.ErrInvalidManifest,
		},
		{
			name:    "plain without payload",
			entries: map[string][]byte{image.ManifestEntry: validManifest, image.PublicKeyEntry: []byte("key")},
			wantErr: image.ErrMissingPayload,
		},
		{
			name:    "no public key",
			entries: map[string][]byte{image.ManifestEntry: validManifest, image.PayloadEntry: []byte("data")},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.mpkg")
			imagetest.WriteArchive(t, path, test.entries)
			_, err := image.Open(path)
			if err == nil {
				t.Fatal("Open succeeded, want error")
			}
			if test.wantErr != nil && !errors.Is(err, test.wantErr) {
				t.Errorf("Open error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestOpenNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.mpkg")
	if err := os.WriteFile(path, []byte("not a zip file"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := image.Open(path); err == nil {
		t.Error("Open succeeded on a non-archive, want error")
	}
}

func TestParseCodec(t *testing.T) {
	for _, compression := range []image.Codec{image.CodecZstd, image.CodecLZ4, image.CodecXZ} {
		parsed, err := image.ParseCodec(compression.String())
		if err != nil {
			t.Errorf("ParseCodec(%q): %v", compression, err)
			continue
		}
		if parsed != compression {
			t.Errorf("ParseCodec(%q) = %s, want %s", compression, parsed, compression)
		}
	}
	if _, err := image.ParseCodec("gzip"); err == nil {
		t.Error("ParseCodec(gzip) succeeded, want error")
	}
}

func TestKeyFingerprintStable(t *testing.T) {
	first := image.KeyFingerprint([]byte("key"))
	if first != image.KeyFingerprint([]byte("key")) {
		t.Error("KeyFingerprint not stable")
	}
	if first == image.KeyFingerprint([]byte("other")) {
		t.Error("KeyFingerprint collides for different keys")
	}
	if len(first) != 16 {
		t.Errorf("KeyFingerprint length = %d, want 16", len(first))
	}
}

func readEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	entries := make(map[string][]byte)
	for _, file := range reader.File {
		entry, err := file.Open()
		if err != nil {
			t.Fatalf("opening entry %s: %v", file.Name, err)
		}
		data, err := io.ReadAll(entry)
		entry.Close()
		if err != nil {
			t.Fatalf("reading entry %s: %v", file.Name, err)
		}
		entries[file.Name] = data
	}
	return entries
}

func TestListEntries(t *testing.T) {
	path := imagetest.WritePlain(t, t.TempDir(), "list.mpkg", imagetest.Module{Name: "com.example.list", Version: 1})
	entries, err := image.ListEntries(path)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	want := []string{image.ManifestEntry, image.PublicKeyEntry, image.PayloadEntry}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
