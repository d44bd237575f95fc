package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func writeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// writeJSON emits an array of objects keyed by column name, one per row.
func writeJSON(w io.Writer, t Table) error {
	rows := make([]map[string]string, 0, len(t.records))
	for _, r := range t.records {
		rows = append(rows, r.Fields(t.withController))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>AP Ethernet Statistics</title>
<style>
table { border-collapse: collapse; font-family: sans-serif; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
th { background: #eee; }
</style>
</head>
<body>
`

// writeHTML renders the table as GitHub-flavored markdown and converts it
// with goldmark, so the same source could be pasted into a ticket.
func writeHTML(w io.Writer, t Table) error {
	var src bytes.Buffer
	fmt.Fprintf(&src, "# AP Ethernet Statistics\n\n%d port(s) at 100 Mbps.\n\n", len(t.Rows))
	writeMarkdownRow(&src, t.Columns)
	sep := make([]string, len(t.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownRow(&src, sep)
	for _, row := range t.Rows {
		writeMarkdownRow(&src, row)
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	if _, err := io.WriteString(w, htmlHead); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

var markdownEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, "<", "&lt;", ">", "&gt;")

func writeMarkdownRow(w *bytes.Buffer, cells []string) {
	w.WriteString("|")
	for _, c := range cells {
		w.WriteString(" ")
		w.WriteString(markdownEscaper.Replace(c))
		w.WriteString(" |")
	}
	w.WriteString("\n")
}

// writeText draws a bordered table for terminals.
func writeText(w io.Writer, t Table) error {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Columns...).
		Rows(t.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintf(w, "%s\n%d port(s) at 100 Mbps\n", tbl.String(), len(t.Rows))
	return err
}
