// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package image reads and writes module package images.
//
// An image is a zip container (klauspost/compress/zip) with three
// entries:
//
//   - manifest.cbor: the CBOR-encoded [Manifest] (name, version,
//     version label, shared-libraries flag)
//   - public_key: the raw public key bundled with the module
//   - payload.img: the filesystem payload, stored uncompressed and
//     page-aligned so that a loop device can expose it by byte range
//     ([Image.PayloadOffset], [Image.PayloadSize])
//
// A compressed image (extension .cmpkg) replaces payload.img with
// original.mpkg.<codec>: the complete plain image compressed with
// zstd, lz4, or xz. Its manifest records the codec and the BLAKE3
// digest and size of the plain image. [Image.Decompress] streams the
// original out, verifies digest, size, and identity, and renames the
// result into place atomically.
//
// [Open] is the entry point for reading; [WritePlain] and [Compress]
// produce images for tooling and tests. Images are opened eagerly and
// hold no file descriptor afterwards.
package image
