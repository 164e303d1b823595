// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository indexes module package images by name and decides
// which image is authoritative for each module.
//
// Two sets are kept. Pre-installed images come from the read-only
// factory directories scanned by [Repository.AddPreInstalledApex]; the
// first image seen for a name is recorded and never replaced. Data
// images come from the updatable directory scanned by
// [Repository.AddDataApex], which selects exactly one candidate per
// name: the highest version, then an image that is not a decompressed
// original (see [IsDecompressed]), then the smaller path. Data
// candidates must bundle the same public key as the pre-installed
// image of the same name; anything else is excluded.
//
// Failure handling has three tiers:
//
//   - An inconsistent factory image set (one name at two paths, or a
//     recorded path whose public key changed) panics with
//     *[InvariantViolation]. These states cannot occur on a correctly
//     built system and must never be handled as errors.
//   - A pre-installed image that cannot be loaded stops the scan with
//     an *[ImageError] wrapping [ErrInvalidImage]. Images recorded
//     before it remain recorded.
//   - A data image that cannot be loaded is logged and skipped.
//
// Images are consumed through the [Image] and [Opener] interfaces;
// [ImageOpener] adapts the image package. Opening fans out across a
// bounded errgroup, but results are always committed in file-name
// order so scans are deterministic.
package repository
