package wlcssh

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoEcho means the command never appeared after a prompt in the
	// session transcript, usually because the shell closed early.
	ErrNoEcho = errors.New("command echo not found in session output")

	// ErrCommandRejected means the controller answered the command with
	// an IOS error marker such as "% Invalid input detected".
	ErrCommandRejected = errors.New("command rejected by controller")
)

// promptLine matches an IOS prompt, optionally followed by typed input:
// "WLC-9800#show ap ...", "wlc1>", "wlc1(config)#".
var promptLine = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(?:\([^)]*\))?[>#]\s*(.*)$`)

// ansiEscape matches terminal control sequences some shells emit.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// iosErrors are the prefixes IOS uses for command-level errors.
var iosErrors = []string{
	"% Invalid input",
	"% Incomplete command",
	"% Ambiguous command",
	"% Unknown command",
	"% Unrecognized command",
}

// Transcript is the interesting part of an interactive session.
type Transcript struct {
	// Hostname is taken from the prompt that preceded the command.
	Hostname string

	// Output is everything between the echoed command and the next
	// prompt, with carriage returns removed.
	Output string
}

// ParseTranscript extracts the prompt host name and the output of
// command from a raw interactive session. The host name is returned even
// when the command output cannot be located.
func ParseTranscript(raw, command string) (Transcript, error) {
	raw = ansiEscape.ReplaceAllString(raw, "")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "")
	lines := strings.Split(raw, "\n")

	var t Transcript
	start := -1
	for i, l := range lines {
		m := promptLine.FindStringSubmatch(strings.TrimSpace(l))
		if m == nil {
			continue
		}
		if t.Hostname == "" {
			t.Hostname = m[1]
		}
		if strings.TrimSpace(m[2]) == command {
			t.Hostname = m[1]
			start = i + 1
			break
		}
	}
	if start < 0 {
		return t, ErrNoEcho
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if isHostPrompt(strings.TrimSpace(lines[i]), t.Hostname) {
			end = i
			break
		}
	}

	out := lines[start:end]
	for _, l := range out {
		trimmed := strings.TrimSpace(l)
		for _, prefix := range iosErrors {
			if strings.HasPrefix(trimmed, prefix) {
				return t, fmt.Errorf("%w: %s", ErrCommandRejected, trimmed)
			}
		}
	}

	t.Output = strings.Join(out, "\n")
	return t, nil
}

func isHostPrompt(line, host string) bool {
	if !strings.HasPrefix(line, host) {
		return false
	}
	m := promptLine.FindStringSubmatch(line)
	return m != nil && m[1] == host
}
