// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every moduled
// package that persists structured data.
//
// Two things are encoded with it: the manifest embedded in each package
// image (manifest.cbor) and the active-module list written by the
// info-list tool. Both are read back by other processes, so the
// encoding must be deterministic (RFC 8949 §4.2 Core Deterministic
// Encoding) and decoding must be strict about duplicate keys.
//
//	data, err := codec.Marshal(manifest)
//	err = codec.Unmarshal(data, &manifest)
//
// Types serialized through this package use `cbor` struct tags.
package codec
