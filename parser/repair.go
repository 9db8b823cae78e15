package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/metricskey"
	"github.com/effective-security/xlog"
	"github.com/kaptinlin/jsonrepair"
)

// Repair names the heuristic that made a candidate decode
type Repair string

// Repairs, in the order they are tried
const (
	RepairNone       Repair = ""
	RepairWhitespace Repair = "whitespace"
	RepairClosers    Repair = "closers"
	RepairTruncate   Repair = "truncate"
	RepairSyntax     Repair = "syntax"
)

// ErrUnrepairable is returned when no heuristic produced valid JSON
var ErrUnrepairable = errors.New("JSON could not be repaired")

var whitespaceRegex = regexp.MustCompile(`\s+`)

// decode returns candidate as valid JSON, repairing it if needed.
// Each heuristic builds on the whitespace collapsed text and is decoded once.
func decode(candidate string) (string, Repair, error) {
	if json.Valid([]byte(candidate)) {
		return candidate, RepairNone, nil
	}

	collapsed := collapseWhitespace(candidate)
	attempts := []struct {
		repair Repair
		fix    func() (string, error)
	}{
		{RepairWhitespace, func() (string, error) { return collapsed, nil }},
		{RepairClosers, func() (string, error) { return closeOpen(collapsed), nil }},
		{RepairTruncate, func() (string, error) { return closeOpen(truncateAfterLastCloser(collapsed)), nil }},
		{RepairSyntax, func() (string, error) { return jsonrepair.JSONRepair(collapsed) }},
	}

	for _, a := range attempts {
		fixed, err := a.fix()
		if err != nil || !json.Valid([]byte(fixed)) {
			continue
		}
		metricskey.StatsParserRepairs.IncrCounter(1, string(a.repair))
		logger.KV(xlog.DEBUG, "repair", a.repair, "len", len(candidate))
		return fixed, a.repair, nil
	}

	metricskey.StatsParserRepairs.IncrCounter(1, "failed")
	return "", RepairNone, ErrUnrepairable
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// closeOpen appends the closers missing at the end of s,
// terminating a dangling string first.
func closeOpen(s string) string {
	st := scan(s)
	if st.end > 0 {
		// balanced, anything after the value is garbage
		return s[:st.end]
	}

	if st.escaped {
		s = s[:len(s)-1]
	}
	if st.inString {
		s += `"`
	} else {
		// a dangling separator cannot be closed
		s = strings.TrimRight(s, " ,")
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(st.open) - 1; i >= 0; i-- {
		if st.open[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// truncateAfterLastCloser drops the text after the last closer outside of a string
func truncateAfterLastCloser(s string) string {
	last := -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}', ']':
			last = i
		}
	}
	if last < 0 {
		return s
	}
	return s[:last+1]
}
