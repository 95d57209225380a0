package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a command prints its report.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// textReport is implemented by reports with a human-readable form.
type textReport interface {
	writeText(w io.Writer) error
}

// writeReport prints report in format. Text falls back to JSON for values
// without a text form.
func writeReport(w io.Writer, report any, format OutputFormat) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	case FormatText, "":
		if tr, ok := report.(textReport); ok {
			return tr.writeText(w)
		}
		return writeReport(w, report, FormatJSON)
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}
