// Package parser lexes the business command strings exchanged with the
// shop-floor host into ParsedCommand values.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/routing"
)

// lineRE matches PTYPE(3 letters) PID([A-Za-z0-9_]+) = VALUE(? or optional
// - then [0-9A-Za-z_.]+), with no interior whitespace. Grounded on
// router.py's _parse_line.
var lineRE = regexp.MustCompile(`^([A-Za-z]{3})([A-Za-z0-9_]+)=(\?|-?[0-9A-Za-z_.]+)$`)

// padWidth is the PID zero-pad width table from spec §4.2.
var padWidth = map[string]int{
	"TTP": 5,
	"TTE": 4, "TTW": 4, "MAP": 4, "MAS": 4, "MAE": 4, "MAW": 4, "LSE": 4, "LSW": 4,
}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// ParseError carries the best-effort pkey recovered before the failure, if
// any, so the caller can still emit a NAK_ParseError reply.
type ParseError struct {
	Pkey string // empty if no key could be recovered
	Msg  string
}

func (e *ParseError) Error() string { return e.Msg }

// Split breaks a multi-command input into its independently parsed
// sub-commands, per spec §4.2: split on comma, semicolon, or newline.
func Split(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// normalizePID zero-pads a purely-numeric PID to the width required by its
// PTYPE. Non-numeric PIDs, and PTYPEs with no table entry, pass through
// unchanged.
func normalizePID(ptype, pid string) string {
	if !digitsOnly.MatchString(pid) {
		return pid
	}
	width, ok := padWidth[strings.ToUpper(ptype)]
	if !ok {
		return pid
	}
	if len(pid) >= width {
		return pid
	}
	return strings.Repeat("0", width-len(pid)) + pid
}

// Parse lexes one sub-command. On success it returns a ParsedCommand with
// Channel already resolved via the prefix router. On failure it returns a
// *ParseError, populated with the best-effort pkey when the PTYPE/PID
// portion of the line was recoverable.
func Parse(line string) (model.ParsedCommand, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return model.ParsedCommand{}, &ParseError{Msg: "empty command"}
	}

	m := lineRE.FindStringSubmatch(trimmed)
	if m == nil {
		return model.ParsedCommand{}, &ParseError{Pkey: bestEffortPkey(trimmed), Msg: fmt.Sprintf("unparseable command: %q", trimmed)}
	}

	ptype := strings.ToUpper(m[1])
	pid := normalizePID(ptype, m[2])
	value := m[3]
	if value == "?" {
		value = model.ReadSentinel
	}

	pkey := ptype + pid
	return model.ParsedCommand{
		Ptype:   ptype,
		Pid:     pid,
		Value:   value,
		Pkey:    pkey,
		Channel: routing.ChannelFor(ptype),
	}, nil
}

// bestEffortPkey tries to recover PTYPE+PID from a line that failed the
// strict grammar, so a NAK_ParseError reply can still carry a key. Mirrors
// the "best-effort pkey" language of spec §4.2/§7.
var looseHeadRE = regexp.MustCompile(`^([A-Za-z]{3})([A-Za-z0-9_]+)`)

func bestEffortPkey(line string) string {
	m := looseHeadRE.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	ptype := strings.ToUpper(m[1])
	return ptype + normalizePID(ptype, m[2])
}
