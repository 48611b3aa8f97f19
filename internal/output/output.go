// Package output renders CLI results as tables, Markdown or JSON.
package output

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/jedib0t/go-pretty/v6/table"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// render emits data as indented JSON, or builds a table and renders it in
// the requested style.
func render(format Format, data any, build func(t table.Writer)) (string, error) {
	if format == FormatJSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	build(t)
	if format == FormatMarkdown {
		return t.RenderMarkdown(), nil
	}
	return t.Render(), nil
}

// Property is one labelled value in a two-column listing.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Properties renders key/value pairs. JSON output is an object keyed by
// Key, in no particular order.
func Properties(format Format, props []Property) (string, error) {
	data := make(map[string]string, len(props))
	for _, p := range props {
		data[p.Key] = p.Value
	}
	return render(format, data, func(t table.Writer) {
		for _, p := range props {
			t.AppendRow(table.Row{p.Key, p.Value})
		}
	})
}
