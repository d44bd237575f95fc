// Package apstats parses the output of the Cisco WLC command
// "show ap ethernet statistics" into per-AP port records and keeps only
// ports that negotiated a degraded 100 Mbps link.
//
// The device output is loosely structured text: one block per access
// point, introduced by an "AP Name" header line, followed by a column
// header, a separator, and one or two interface rows. The parser never
// talks to a device; it receives text that a fetcher already retrieved.
package apstats

// DegradedSpeed is the only speed value that is reported. The comparison
// is an exact string match on "<value> <unit>".
const DegradedSpeed = "100 Mbps"

// Column names used by every tabular rendition of a record.
const (
	ColumnController = "WLC"
	ColumnAP         = "AP"
	ColumnPort       = "port"
	ColumnSpeed      = "speed"
	ColumnDuplex     = "duplex"
)

// Record is one AP Ethernet port running at [DegradedSpeed].
type Record struct {
	// Controller is the WLC the AP is joined to. Empty when the run
	// targets a single controller and records are unlabeled.
	Controller string `json:"WLC,omitempty"`

	AP     string `json:"AP"`
	Port   string `json:"port"`
	Speed  string `json:"speed"`
	Duplex string `json:"duplex"`
}

// Columns returns the column names of the tabular view, with or without
// the controller column.
func Columns(withController bool) []string {
	cols := []string{ColumnAP, ColumnPort, ColumnSpeed, ColumnDuplex}
	if withController {
		return append([]string{ColumnController}, cols...)
	}
	return cols
}

// Row returns the record's fields in [Columns] order.
func (r Record) Row(withController bool) []string {
	row := []string{r.AP, r.Port, r.Speed, r.Duplex}
	if withController {
		return append([]string{r.Controller}, row...)
	}
	return row
}

// Fields returns the record as a flat column → value mapping.
func (r Record) Fields(withController bool) map[string]string {
	cols := Columns(withController)
	row := r.Row(withController)
	m := make(map[string]string, len(cols))
	for i, c := range cols {
		m[c] = row[i]
	}
	return m
}
