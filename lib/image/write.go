// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/moduled/lib/atomicfile"
)

// PayloadAlignment is the alignment of the payload entry's data within
// a plain image. Page alignment lets the loop driver use direct I/O on
// the payload region.
const PayloadAlignment = 4096

// alignmentExtraID is the zip extra-field ID used for padding, the same
// ID conventional zip aligners use.
const alignmentExtraID = 0xd935

// localHeaderLength is the fixed part of a zip local file header.
const localHeaderLength = 30

// WritePlain writes a plain image to path with the given manifest,
// bundled public key, and payload. The manifest must not carry
// Compression. The payload entry is stored uncompressed and
// page-aligned. The file appears at path atomically.
func WritePlain(path string, manifest Manifest, publicKey []byte, payload io.Reader) error {
	if manifest.Compression != nil {
		return fmt.Errorf("writing plain image %s: %w: compression set on plain manifest", path, ErrInvalidManifest)
	}
	return writeContainer(path, manifest, publicKey, PayloadEntry, func(entry io.Writer) error {
		_, err := io.Copy(entry, payload)
		return err
	})
}

// Compress reads the plain image at plainPath and writes a compressed
// image embedding it to destination. The compressed manifest carries
// the plain image's identity plus its BLAKE3 digest and size.
func Compress(plainPath, destination string, codec Codec) error {
	plain, err := Open(plainPath)
	if err != nil {
		return err
	}
	if plain.IsCompressed() {
		return fmt.Errorf("compressing %s: already compressed", plainPath)
	}
	digest, size, err := HashFile(plainPath)
	if err != nil {
		return err
	}

	manifest := plain.Manifest()
	manifest.Compression = &Compression{
		Codec:          codec,
		OriginalDigest: digest.String(),
		OriginalSize:   size,
	}

	source, err := os.Open(plainPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", plainPath, err)
	}
	defer source.Close()

	return writeContainer(destination, manifest, plain.PublicKey(), originalEntryName(codec), func(entry io.Writer) error {
		compressor, err := newCompressor(codec, entry)
		if err != nil {
			return err
		}
		if _, err := io.Copy(compressor, source); err != nil {
			compressor.Close()
			return err
		}
		return compressor.Close()
	})
}

// writeContainer assembles an image container: manifest, public key,
// then one aligned, stored body entry filled by writeBody.
func writeContainer(path string, manifest Manifest, publicKey []byte, bodyName string, writeBody func(io.Writer) error) error {
	manifestBytes, err := EncodeManifest(manifest)
	if err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	if len(publicKey) == 0 {
		return fmt.Errorf("writing image %s: public key is empty", path)
	}

	file, err := atomicfile.Create(path)
	if err != nil {
		return err
	}
	defer file.Abort()

	counter := &countingWriter{writer: file}
	archive := zip.NewWriter(counter)

	if err := writeStoredEntry(archive, ManifestEntry, manifestBytes); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	if err := writeStoredEntry(archive, PublicKeyEntry, publicKey); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}

	// Flush so the counter reflects everything written so far, then pad
	// the body entry's extra field so its data starts aligned.
	if err := archive.Flush(); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	extra := alignmentExtra(counter.count+localHeaderLength+int64(len(bodyName)), PayloadAlignment)
	body, err := archive.CreateHeader(&zip.FileHeader{Name: bodyName, Method: zip.Store, Extra: extra})
	if err != nil {
		return fmt.Errorf("writing image %s: creating %s: %w", path, bodyName, err)
	}
	if err := writeBody(body); err != nil {
		return fmt.Errorf("writing image %s: %s: %w", path, bodyName, err)
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("writing image %s: finishing archive: %w", path, err)
	}
	if err := file.Chmod(0644); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	return file.Commit()
}

// writeStoredEntry writes a small entry with sizes and checksum in the
// local header, so no data descriptor trails it and the archive offset
// after it is known exactly.
func writeStoredEntry(archive *zip.Writer, name string, data []byte) error {
	entry, err := archive.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	})
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// alignmentExtra returns an extra field that, placed at offset
// (the position right after the entry name), makes the entry data
// start on a multiple of alignment. The field is always at least six
// bytes: ID, length, and the recorded alignment.
func alignmentExtra(offset int64, alignment int64) []byte {
	const minimum = 6
	padding := (alignment - (offset+minimum)%alignment) % alignment
	extra := make([]byte, minimum+padding)
	binary.LittleEndian.PutUint16(extra[0:], alignmentExtraID)
	binary.LittleEndian.PutUint16(extra[2:], uint16(len(extra)-4))
	binary.LittleEndian.PutUint16(extra[4:], uint16(alignment))
	return extra
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	w.count += int64(n)
	return n, err
}
