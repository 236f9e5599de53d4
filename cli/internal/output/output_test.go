package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWriterTo(t *testing.T) {
	tests := []struct {
		format string
		want   Format
	}{
		{"json", FormatJSON},
		{"yaml", FormatYAML},
		{"table", FormatTable},
		{"wide", FormatTable},
		{"", FormatTable},
	}
	for _, tt := range tests {
		w := NewWriterTo(tt.format, &bytes.Buffer{})
		if w.format != tt.want {
			t.Errorf("NewWriterTo(%q).format = %v, want %v", tt.format, w.format, tt.want)
		}
	}
}

func TestPrint_JSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("json", &buf)

	type rule struct {
		ID       string   `json:"id"`
		Severity string   `json:"severity"`
		Channels []string `json:"channels"`
	}
	if err := w.Print(rule{ID: "checkout-errors", Severity: "high", Channels: []string{"console"}}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	var decoded rule
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != "checkout-errors" || decoded.Severity != "high" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPrint_YAML(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("yaml", &buf)

	if err := w.Print(map[string]int{"active_alerts": 3}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "active_alerts: 3") {
		t.Errorf("output = %q, want it to contain active_alerts: 3", got)
	}
}

func TestPrint_Table(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)

	table := Table{Headers: []string{"ID", "SEVERITY", "ENABLED"}}
	table.AddRow("checkout-errors", "high", true)
	table.AddRow("slow-queries", "medium", false)

	if err := w.Print(table); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "SEVERITY") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "checkout-errors") || !strings.Contains(lines[1], "true") {
		t.Errorf("row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "slow-queries") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestPrint_Table_ColumnsAligned(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)

	table := Table{Headers: []string{"NAME", "VALUE"}}
	table.AddRow("a", 1)
	table.AddRow("much-longer-name", 2)

	if err := w.Print(table); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	first := strings.Index(lines[1], "1")
	second := strings.Index(lines[2], "2")
	if first != second {
		t.Errorf("value column misaligned: %d vs %d\n%s", first, second, buf.String())
	}
}

func TestPrint_Table_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)

	if err := w.Print(Table{Headers: []string{"ID"}}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "ID" {
		t.Errorf("output = %q, want just the header", got)
	}
}

func TestPrint_TableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)

	if err := w.Print(map[string][]int{"buckets": {10, 50, 100}}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	var decoded map[string][]int
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("fallback output is not valid JSON: %v", err)
	}
	if len(decoded["buckets"]) != 3 {
		t.Errorf("decoded = %v", decoded)
	}
}
