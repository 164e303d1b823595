// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a command renders structured results.
type OutputFormat string

const (
	// OutputAuto is text on a terminal and YAML otherwise.
	OutputAuto OutputFormat = ""
	OutputText OutputFormat = "text"
	OutputYAML OutputFormat = "yaml"
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "", "text", "yaml", or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch format := OutputFormat(s); format {
	case OutputAuto, OutputText, OutputYAML, OutputJSON:
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, yaml, or json)", s)
	}
}

// Resolve replaces OutputAuto with a concrete format for stdout.
func (f OutputFormat) Resolve() OutputFormat {
	if f != OutputAuto {
		return f
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return OutputText
	}
	return OutputYAML
}

// WriteStructured encodes value to w as YAML or JSON. Text output is
// command-specific and not handled here.
func WriteStructured(w io.Writer, format OutputFormat, value any) error {
	switch format {
	case OutputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case OutputYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("no structured encoding for output format %q", format)
	}
}
