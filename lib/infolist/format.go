// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package infolist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/moduled/lib/atomicfile"
	"github.com/bureau-foundation/moduled/lib/codec"
)

// Format selects the list's on-disk encoding.
type Format int

const (
	// FormatCBOR is deterministic CBOR, the format consumers on the
	// device read.
	FormatCBOR Format = iota

	// FormatYAML is for people and offline tooling.
	FormatYAML
)

// String returns the format's flag spelling.
func (f Format) String() string {
	switch f {
	case FormatCBOR:
		return "cbor"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses "cbor" or "yaml".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "cbor":
		return FormatCBOR, nil
	case "yaml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("unknown list format %q (want cbor or yaml)", s)
	}
}

// Marshal encodes list in format.
func Marshal(list *List, format Format) ([]byte, error) {
	switch format {
	case FormatCBOR:
		return codec.Marshal(list)
	case FormatYAML:
		return yaml.Marshal(list)
	default:
		return nil, fmt.Errorf("unknown list format %v", format)
	}
}

// Unmarshal decodes a list encoded in format.
func Unmarshal(data []byte, format Format) (*List, error) {
	list := &List{}
	var err error
	switch format {
	case FormatCBOR:
		err = codec.Unmarshal(data, list)
	case FormatYAML:
		err = yaml.Unmarshal(data, list)
	default:
		return nil, fmt.Errorf("unknown list format %v", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %v module list: %w", format, err)
	}
	return list, nil
}

// Write atomically replaces the file at path with list. Readers see
// either the previous list or the complete new one.
func Write(path string, list *List, format Format) error {
	data, err := Marshal(list, format)
	if err != nil {
		return fmt.Errorf("encoding module list: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing module list %s: %w", path, err)
	}
	return nil
}

// Read loads a list written by Write.
func Read(path string, format Format) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data, format)
}
