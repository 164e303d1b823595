// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bureau-foundation/moduled/lib/image"
)

// DefaultOpenConcurrency bounds parallel image opening within one
// directory when WithOpenConcurrency is not given.
const DefaultOpenConcurrency = 4

// Repository indexes pre-installed and data images by module name.
//
// A Repository is not safe for concurrent use. A process that answers
// lookups while rescanning must guard the whole Repository (or swap in
// a freshly built one); intermediate scan states are not meaningful.
type Repository struct {
	opener           Opener
	decompressionDir string
	ignoreDuplicates bool
	openConcurrency  int
	logger           *slog.Logger

	// preInstalled maps module name to the first image recorded for it.
	// Entries are never replaced.
	preInstalled map[string]Image

	// data maps module name to the selected data image. Replaced
	// wholesale by each AddDataApex.
	data map[string]Image
}

// Option configures a Repository.
type Option func(*Repository)

// WithDecompressionDir sets the directory holding decompressed
// originals. Without it no image is considered decompressed.
func WithDecompressionDir(directory string) Option {
	return func(r *Repository) {
		r.decompressionDir = directory
	}
}

// WithIgnoreDuplicates makes the first pre-installed image found for a
// name win instead of aborting when another path declares the same
// name. Public-key changes at a recorded path still abort. Intended for
// offline tools inspecting images that never reach a running system.
func WithIgnoreDuplicates() Option {
	return func(r *Repository) {
		r.ignoreDuplicates = true
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithOpenConcurrency sets how many images in one directory are opened
// in parallel. Results are committed in file-name order regardless, so
// this never changes what a scan records. Values below 1 mean 1.
func WithOpenConcurrency(n int) Option {
	return func(r *Repository) {
		r.openConcurrency = max(n, 1)
	}
}

// New returns an empty Repository that opens images with opener. A nil
// opener means ImageOpener.
func New(opener Opener, options ...Option) *Repository {
	if opener == nil {
		opener = ImageOpener
	}
	r := &Repository{
		opener:          opener,
		openConcurrency: DefaultOpenConcurrency,
		preInstalled:    make(map[string]Image),
		data:            make(map[string]Image),
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// DecompressionDir returns the configured decompression directory.
func (r *Repository) DecompressionDir() string { return r.decompressionDir }

// GetPreinstalledPath returns the path recorded for a pre-installed
// module.
func (r *Repository) GetPreinstalledPath(name string) (string, error) {
	entry, ok := r.preInstalled[name]
	if !ok {
		return "", fmt.Errorf("%w: no pre-installed module %q", ErrNotFound, name)
	}
	return entry.Path(), nil
}

// GetPublicKey returns the public key recorded for a pre-installed
// module. Callers must not modify the returned slice.
func (r *Repository) GetPublicKey(name string) ([]byte, error) {
	entry, ok := r.preInstalled[name]
	if !ok {
		return nil, fmt.Errorf("%w: no pre-installed module %q", ErrNotFound, name)
	}
	return entry.PublicKey(), nil
}

// HasPreInstalledVersion reports whether a pre-installed image was
// recorded for name.
func (r *Repository) HasPreInstalledVersion(name string) bool {
	_, ok := r.preInstalled[name]
	return ok
}

// GetDataPath returns the path of the selected data image for name.
func (r *Repository) GetDataPath(name string) (string, error) {
	entry, ok := r.data[name]
	if !ok {
		return "", fmt.Errorf("%w: no data module %q", ErrNotFound, name)
	}
	return entry.Path(), nil
}

// HasDataVersion reports whether a data image is selected for name.
func (r *Repository) HasDataVersion(name string) bool {
	_, ok := r.data[name]
	return ok
}

// GetPreInstalledApexFiles returns every pre-installed image, ordered
// by module name.
func (r *Repository) GetPreInstalledApexFiles() []Image {
	return sortedByName(r.preInstalled)
}

// GetDataApexFiles returns the selected data image of every module,
// ordered by module name.
func (r *Repository) GetDataApexFiles() []Image {
	return sortedByName(r.data)
}

// AllApexFilesByName returns every distinct image instance known for
// each module name, pre-installed first. A caller that needs exactly
// one image per name must check the slice lengths itself.
func (r *Repository) AllApexFilesByName() map[string][]Image {
	result := make(map[string][]Image, len(r.preInstalled))
	for name, entry := range r.preInstalled {
		result[name] = append(result[name], entry)
	}
	for name, entry := range r.data {
		duplicate := false
		for _, existing := range result[name] {
			if existing.Path() == entry.Path() {
				duplicate = true
				break
			}
		}
		if !duplicate {
			result[name] = append(result[name], entry)
		}
	}
	return result
}

// IsPreInstalledApex reports whether module is the recorded
// pre-installed image for its name. An identical image at another path
// is not.
func (r *Repository) IsPreInstalledApex(module Image) bool {
	entry, ok := r.preInstalled[module.Name()]
	return ok && entry.Path() == module.Path()
}

// IsDecompressedApex reports whether module is a decompressed original:
// inside the decompression directory, or a hard link to the same-named
// file there.
func (r *Repository) IsDecompressedApex(module Image) bool {
	return IsDecompressed(r.decompressionDir, module.Path())
}

// DecompressedPath returns where the decompressed original of a
// compressed image belongs: <dir>/<name>@<version>.mpkg.
func (r *Repository) DecompressedPath(compressed Image) string {
	return DecompressedPath(r.decompressionDir, compressed.Name(), compressed.Version())
}

func sortedByName(entries map[string]Image) []Image {
	result := make([]Image, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

func sameKey(a, b Image) bool {
	return bytes.Equal(a.PublicKey(), b.PublicKey())
}

// keyFingerprint shortens a key for log output.
func keyFingerprint(key []byte) string {
	return image.KeyFingerprint(key)
}
