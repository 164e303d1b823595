// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of a complete image file.
type Digest [32]byte

// String returns the lowercase hex encoding used in manifests.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a hex-encoded digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing image digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("image digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// HashFile streams the file at path through BLAKE3 and returns its
// digest and size. Memory use is constant regardless of file size.
func HashFile(path string) (Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, size, nil
}

// KeyFingerprint returns a short, stable identifier for a bundled
// public key, suitable for log lines and inspect output.
func KeyFingerprint(publicKey []byte) string {
	sum := blake3.Sum256(publicKey)
	return hex.EncodeToString(sum[:8])
}
