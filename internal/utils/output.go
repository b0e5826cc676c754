package utils

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format selects how a command prints machine-readable results
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatYAML
)

// FormatFromFlags maps the --json/--yaml flag pair to a Format
func FormatFromFlags(asJSON, asYAML bool) Format {
	switch {
	case asJSON:
		return FormatJSON
	case asYAML:
		return FormatYAML
	}
	return FormatText
}

// Encode writes v to w. Habit names and notes are user text, so HTML
// characters are not escaped in JSON.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("format %d has no encoder", format)
}
