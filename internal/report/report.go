// Package report renders AP port records as a table in one of several
// file formats. The xlsx format is the default and matches the
// spreadsheet the inventory has always produced; the others exist for
// pipelines (csv, json, sqlite), e-mail (html) and terminals (text).
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/apreport/internal/apstats"
)

// Format is a report serialization.
type Format string

const (
	FormatXLSX   Format = "xlsx"
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatHTML   Format = "html"
	FormatText   Format = "text"
	FormatSQLite Format = "sqlite"
)

// ParseFormat converts a config or flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV, FormatJSON, FormatHTML, FormatText, FormatSQLite:
		return f, nil
	case "txt":
		return FormatText, nil
	case "db", "sqlite3":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("unknown report format %q (valid: xlsx, csv, json, html, text, sqlite)", s)
	}
}

// FormatFromPath infers the format from a file extension. "-" (stdout)
// is text.
func FormatFromPath(path string) (Format, error) {
	if path == "-" {
		return FormatText, nil
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch strings.ToLower(ext) {
	case "xlsx":
		return FormatXLSX, nil
	case "htm", "html":
		return FormatHTML, nil
	case "":
		return "", fmt.Errorf("cannot infer report format from %q; set report.format", path)
	}
	return ParseFormat(ext)
}

// Table is the tabular view of a record set.
type Table struct {
	Columns []string
	Rows    [][]string

	records        []apstats.Record
	withController bool
}

// NewTable builds a table from records. withController adds the leading
// WLC column.
func NewTable(records []apstats.Record, withController bool) Table {
	t := Table{
		Columns:        apstats.Columns(withController),
		Rows:           make([][]string, 0, len(records)),
		records:        records,
		withController: withController,
	}
	for _, r := range records {
		t.Rows = append(t.Rows, r.Row(withController))
	}
	return t
}

// Meta describes the run a report came from. Only the sqlite format
// stores it.
type Meta struct {
	RunID    string
	Source   string // wlc, fleet, dnac or parse
	Started  time.Time
	Finished time.Time
	Devices  int
	Failures int
}

// Render writes a stream format to w. The xlsx and sqlite formats need a
// file path; use [Write] for them.
func Render(w io.Writer, format Format, t Table) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, t)
	case FormatJSON:
		return writeJSON(w, t)
	case FormatHTML:
		return writeHTML(w, t)
	case FormatText:
		return writeText(w, t)
	case FormatXLSX, FormatSQLite:
		return fmt.Errorf("%s reports must be written to a file", format)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// Write writes the report to path, replacing any existing file. A path
// of "-" writes a stream format to stdout.
func Write(path string, format Format, t Table, meta Meta) error {
	switch format {
	case FormatXLSX:
		return writeXLSX(path, t)
	case FormatSQLite:
		return writeSQLite(path, t, meta)
	}

	if path == "-" {
		return Render(os.Stdout, format, t)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, format, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
