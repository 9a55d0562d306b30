package query

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/writerr/changepipeline/internal/change"
)

// Format selects an export encoding → bytes").
type Format string

const (
	FormatJSON     Format = "Json"
	FormatCSV      Format = "Csv"
	FormatMarkdown Format = "Markdown"
)

// ExportOptions configures CSV column selection and date formatting.
type ExportOptions struct {
	Columns    []string // CSV only; empty = default column set
	DateFormat string   // CSV/Markdown; empty = RFC3339
}

var defaultColumns = []string{"id", "session_id", "category", "source", "status", "confidence", "timestamp"}

// Export renders changes (already resolved from ids by the caller) in
// format. Exports are deterministic for a given input slice (spec: "Exports
// are deterministic for a given snapshot").
func Export(changes []*change.Change, format Format, opts ExportOptions) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(changes)
	case FormatCSV:
		return exportCSV(changes, opts)
	case FormatMarkdown:
		return exportMarkdown(changes, opts)
	default:
		return nil, fmt.Errorf("query: unknown export format %q", format)
	}
}

func exportJSON(changes []*change.Change) ([]byte, error) {
	return json.MarshalIndent(changes, "", "  ")
}

func dateFormat(opts ExportOptions) string {
	if opts.DateFormat != "" {
		return opts.DateFormat
	}
	return "2006-01-02T15:04:05Z07:00"
}

func exportCSV(changes []*change.Change, opts ExportOptions) ([]byte, error) {
	cols := opts.Columns
	if len(cols) == 0 {
		cols = defaultColumns
	}
	df := dateFormat(opts)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	for _, c := range changes {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = csvField(c, col, df)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvField(c *change.Change, col, dateFmt string) string {
	switch col {
	case "id":
		return c.ID
	case "session_id":
		return c.SessionID
	case "category":
		return string(c.Category)
	case "source":
		return c.Source
	case "status":
		return string(c.Status)
	case "confidence":
		return fmt.Sprintf("%.4f", c.Confidence)
	case "timestamp":
		return c.Timestamp.Format(dateFmt)
	case "before":
		return c.Content.Before
	case "after":
		return c.Content.After
	default:
		return ""
	}
}

func exportMarkdown(changes []*change.Change, opts ExportOptions) ([]byte, error) {
	df := dateFormat(opts)
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %d changes\n\n", len(changes))
	if len(changes) > 0 {
		avg := 0.0
		for _, c := range changes {
			avg += c.Confidence
		}
		avg /= float64(len(changes))
		fmt.Fprintf(&sb, "- average confidence: %.2f\n\n", avg)
	}

	sb.WriteString("| id | session | category | source | status | confidence | timestamp |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, c := range changes {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %.2f | %s |\n",
			c.ID, c.SessionID, c.Category, c.Source, c.Status, c.Confidence, c.Timestamp.Format(df))
	}
	return []byte(sb.String()), nil
}
