package apstats

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// headerPrefix introduces every AP block in the command output.
const headerPrefix = "AP Name"

// Sentinel errors for output the parser cannot interpret. Each one is
// fatal for the whole Parse call; callers decide whether to skip the
// device or abort.
var (
	// ErrMalformedHeader means an "AP Name" line has no ':' separator.
	ErrMalformedHeader = errors.New("AP header has no ':' separator")

	// ErrShortBlock means a block is too short to hold a statistics line.
	ErrShortBlock = errors.New("AP block has no statistics line")

	// ErrInsufficientTokens means the selected statistics line has fewer
	// than five whitespace-separated fields.
	ErrInsufficientTokens = errors.New("statistics line has fewer than 5 fields")
)

// BlockError reports which AP block failed to parse.
type BlockError struct {
	Index  int    // zero-based block index within the output
	APName string // empty when the header itself was malformed
	Line   string // the offending line
	Err    error  // one of the sentinel errors above
}

func (e *BlockError) Error() string {
	if e.APName != "" {
		return fmt.Sprintf("AP block %d (%s): %v: %q", e.Index, e.APName, e.Err, e.Line)
	}
	return fmt.Sprintf("AP block %d: %v: %q", e.Index, e.Err, e.Line)
}

func (e *BlockError) Unwrap() error { return e.Err }

// Layout selects how the statistics line is located inside a block.
type Layout string

const (
	// LayoutPositional picks the last line of a four-line block and the
	// second-to-last line of any other block. This matches the fixed
	// layout emitted by current controller firmware.
	LayoutPositional Layout = "positional"

	// LayoutInterfaceRows picks the first line that looks like an
	// interface row, ignoring where it sits in the block. Blocks with no
	// interface row produce no record.
	LayoutInterfaceRows Layout = "interface-rows"
)

// ParseLayout converts a config string to a Layout. Empty selects
// [LayoutPositional].
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutPositional:
		return LayoutPositional, nil
	case LayoutInterfaceRows:
		return LayoutInterfaceRows, nil
	default:
		return "", fmt.Errorf("unknown parser layout %q (valid: positional, interface-rows)", s)
	}
}

// interfaceRow matches "<port> <status> <number> <unit>bps <duplex> ...".
var interfaceRow = regexp.MustCompile(`^\S+\s+\S+\s+\d+\s+[KMGT]?bps\s+\S+`)

// Parser turns raw command output into records.
type Parser struct {
	layout Layout
}

// NewParser returns a parser using the given layout. An empty layout
// selects [LayoutPositional].
func NewParser(layout Layout) *Parser {
	if layout == "" {
		layout = LayoutPositional
	}
	return &Parser{layout: layout}
}

// Parse extracts the 100 Mbps ports from raw "show ap ethernet
// statistics" output using [LayoutPositional]. controller is attached to
// every record; pass "" for unlabeled records.
func Parse(raw, controller string) ([]Record, error) {
	return NewParser(LayoutPositional).Parse(raw, controller)
}

// Parse extracts the 100 Mbps ports from raw output. Output with no
// "AP Name" line yields an empty, non-nil slice and no error.
func (p *Parser) Parse(raw, controller string) ([]Record, error) {
	records := []Record{}
	for i, block := range splitBlocks(cleanLines(raw)) {
		rec, ok, err := p.parseBlock(i, block)
		if err != nil {
			return nil, err
		}
		if !ok || rec.Speed != DegradedSpeed {
			continue
		}
		rec.Controller = controller
		records = append(records, rec)
	}
	return records, nil
}

func (p *Parser) parseBlock(index int, block []string) (Record, bool, error) {
	header := block[0]
	_, name, found := strings.Cut(header, ":")
	if !found {
		return Record{}, false, &BlockError{Index: index, Line: header, Err: ErrMalformedHeader}
	}
	// Only the second ':'-separated field is the name.
	name, _, _ = strings.Cut(name, ":")
	name = strings.TrimSpace(name)

	var line string
	switch p.layout {
	case LayoutInterfaceRows:
		for _, l := range block[1:] {
			if interfaceRow.MatchString(l) {
				line = l
				break
			}
		}
		if line == "" {
			return Record{}, false, nil
		}
	default:
		switch {
		case len(block) == 4:
			line = block[3]
		case len(block) >= 2:
			line = block[len(block)-2]
		default:
			return Record{}, false, &BlockError{Index: index, APName: name, Line: header, Err: ErrShortBlock}
		}
	}

	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Record{}, false, &BlockError{Index: index, APName: name, Line: line, Err: ErrInsufficientTokens}
	}

	return Record{
		AP:     name,
		Port:   fields[0],
		Speed:  fields[2] + " " + fields[3],
		Duplex: fields[4],
	}, true, nil
}

// cleanLines splits raw output into trimmed lines. Only lines that are
// exactly "" or exactly " " are dropped; other whitespace-only lines are
// kept (as empty strings) because block sizes depend on them.
func cleanLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l == "" || l == " " {
			continue
		}
		lines = append(lines, strings.TrimSpace(l))
	}
	return lines
}

// splitBlocks partitions lines into AP blocks. Each block starts at an
// "AP Name" line and runs until the next one or the end of input. Lines
// before the first header are discarded.
func splitBlocks(lines []string) [][]string {
	var starts []int
	for i, l := range lines {
		if strings.HasPrefix(l, headerPrefix) {
			starts = append(starts, i)
		}
	}

	blocks := make([][]string, 0, len(starts))
	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		blocks = append(blocks, lines[start:end])
	}
	return blocks
}
