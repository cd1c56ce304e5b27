// Package render provides output rendering for the backfill CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Color handling: --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	if format == "" {
		if IsTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     c.App.Writer,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// column is one rendered struct field.
type column struct {
	index  int
	name   string
	option string
}

// columns returns the rendered fields of a struct type. The table tag
// takes precedence over the json tag; "-" hides a field. A second tag
// element selects a formatter: "bytes" or "ago".
func columns(t reflect.Type) []column {
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, option := strings.ToLower(f.Name), ""
		if tag, ok := f.Tag.Lookup("table"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			if len(parts) > 1 {
				option = parts[1]
			}
		} else if tag := f.Tag.Get("json"); tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}
		cols = append(cols, column{index: i, name: name, option: option})
	}
	return cols
}

func (r *Renderer) header(names []string) string {
	line := strings.Join(names, "\t")
	if r.noColor {
		return line
	}
	styled := make([]string, len(names))
	for i, n := range names {
		styled[i] = headerStyle.Render(n)
	}
	return strings.Join(styled, "\t")
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.Indirect(reflect.ValueOf(data))
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, _ = fmt.Fprintln(w, "(no results)")
			return nil
		}
		elem := v.Type().Elem()
		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			for i := range v.Len() {
				_, _ = fmt.Fprintln(w, formatValue(v.Index(i), ""))
			}
			return nil
		}

		cols := columns(elem)
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.name
		}
		_, _ = fmt.Fprintln(w, r.header(names))
		for i := range v.Len() {
			row := reflect.Indirect(v.Index(i))
			values := make([]string, len(cols))
			for j, c := range cols {
				values[j] = formatValue(row.Field(c.index), c.option)
			}
			_, _ = fmt.Fprintln(w, strings.Join(values, "\t"))
		}
	case reflect.Struct:
		for _, c := range columns(v.Type()) {
			_, _ = fmt.Fprintf(w, "%s:\t%s\n", c.name, formatValue(v.Field(c.index), c.option))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			_, _ = fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value(), ""))
		}
	default:
		_, _ = fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

func formatValue(v reflect.Value, option string) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		if option == "ago" {
			return humanize.Time(t)
		}
		return t.Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	case reflect.Int, reflect.Int32, reflect.Int64:
		if option == "bytes" {
			return humanize.Bytes(uint64(max(v.Int(), 0)))
		}
		return humanize.Comma(v.Int())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// IsTTY returns true if the file is a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
