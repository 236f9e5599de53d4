// Package output renders CLI results as tables, JSON, or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Writer renders values in one fixed format.
type Writer struct {
	format Format
	out    io.Writer
}

// NewWriter creates a writer for the named format on stdout. Unknown
// formats fall back to table.
func NewWriter(format string) *Writer {
	return NewWriterTo(format, os.Stdout)
}

// NewWriterTo creates a writer for the named format on out.
func NewWriterTo(format string, out io.Writer) *Writer {
	f := Format(format)
	if f != FormatJSON && f != FormatYAML {
		f = FormatTable
	}
	return &Writer{format: f, out: out}
}

// Print renders data in the writer's format. In table mode, values that
// are not a Table render as indented JSON.
func (w *Writer) Print(data any) error {
	switch w.format {
	case FormatJSON:
		return w.printJSON(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	default:
		if t, ok := data.(Table); ok {
			return t.write(w.out)
		}
		return w.printJSON(data)
	}
}

func (w *Writer) printJSON(data any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Table is column-aligned tabular output.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends one row, formatting each cell with %v.
func (t *Table) AddRow(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.Rows = append(t.Rows, row)
}

func (t Table) write(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Success prints a success message to stdout.
func Success(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// Error prints an error message to stderr.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Info prints an informational message to stdout.
func Info(format string, args ...any) {
	fmt.Printf("→ "+format+"\n", args...)
}
