package tui

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

var outputFormat = FormatText

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// SetOutputFormat sets the global output format. Unknown values mean text.
func SetOutputFormat(format string) {
	f, err := ParseOutputFormat(format)
	if err != nil {
		f = FormatText
	}
	outputFormat = f
}

// GetOutputFormat returns the active output format.
func GetOutputFormat() OutputFormat {
	return outputFormat
}

// IsStructured reports whether output is JSON or YAML.
func IsStructured() bool {
	return outputFormat == FormatJSON || outputFormat == FormatYAML
}

// RenderOutput prints data in the active format to stdout. Text mode prints
// textOutput as-is.
func RenderOutput(data any, textOutput string) error {
	logMu.Lock()
	defer logMu.Unlock()
	return FprintOutput(stdout, data, textOutput)
}

// FprintOutput writes data in the active format to w.
func FprintOutput(w io.Writer, data any, textOutput string) error {
	switch outputFormat {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprint(w, textOutput)
		return err
	}
}
