// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleManifest struct {
	Name    string `cbor:"name"`
	Version int64  `cbor:"version"`
	Label   string `cbor:"label,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleManifest{Name: "com.example.media", Version: 3}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleManifest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministicAcrossMapOrder(t *testing.T) {
	first := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	second := map[string]int{"mid": 3, "zeta": 1, "alpha": 2}

	firstData, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal first: %v", err)
	}
	secondData, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal second: %v", err)
	}
	if !bytes.Equal(firstData, secondData) {
		t.Errorf("encodings differ:\n  %x\n  %x", firstData, secondData)
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"name": "a", "name": "b"}
	data := []byte{
		0xa2,
		0x64, 'n', 'a', 'm', 'e', 0x61, 'a',
		0x64, 'n', 'a', 'm', 'e', 0x61, 'b',
	}
	var decoded sampleManifest
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatalf("Unmarshal accepted duplicate keys, decoded %+v", decoded)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "com.example.media", "version": 1, "future": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleManifest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != "com.example.media" || decoded.Version != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for version := int64(1); version <= 3; version++ {
		if err := encoder.Encode(sampleManifest{Name: "m", Version: version}); err != nil {
			t.Fatalf("Encode %d: %v", version, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for version := int64(1); version <= 3; version++ {
		var decoded sampleManifest
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", version, err)
		}
		if decoded.Version != version {
			t.Errorf("decoded version = %d, want %d", decoded.Version, version)
		}
	}
}
