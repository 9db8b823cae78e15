package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/tidwall/gjson"
)

// Field names accepted in an action object, in order of preference
var (
	nameFields      = []string{"name", "tool", "tool_name", "action"}
	argumentsFields = []string{"arguments", "parameters", "args", "input", "action_input"}
)

// parseAction decodes the calls of the Action block.
// rest runs to the end of the reply, block ends at the next marker.
func parseAction(rest, block string) ([]tools.Call, Repair, error) {
	candidate, closed, err := isolate(rest)
	if err != nil {
		return nil, RepairNone, err
	}
	if !closed {
		// do not let the repairs see the following sections
		candidate, _, _ = isolate(block)
	}

	js, repair, err := decode(candidate)
	if err != nil {
		return nil, RepairNone, &ParseError{Reason: "invalid action JSON", Err: err}
	}

	calls, err := callsFrom(js)
	if err != nil {
		return nil, RepairNone, err
	}
	return calls, repair, nil
}

// isolate returns the JSON value at the start of text.
// When the value is not closed, the rest of text is returned.
func isolate(text string) (string, bool, error) {
	rest := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(rest, "```") {
		rest = rest[3:]
		if i := strings.IndexAny(rest, "\n{["); i >= 0 {
			if rest[i] == '\n' {
				i++
			}
			rest = rest[i:]
		}
		rest = strings.TrimLeft(rest, " \t\r\n")
	}
	if rest == "" {
		return "", false, &ParseError{Reason: "action is empty"}
	}
	if rest[0] != '{' && rest[0] != '[' {
		return "", false, &ParseError{Reason: "action is not a JSON object"}
	}

	st := scan(rest)
	if st.end > 0 {
		return rest[:st.end], true, nil
	}
	return strings.TrimRight(rest, " \t\r\n"), false, nil
}

// scanState is the result of a balanced scan
type scanState struct {
	// end is the offset after the closer that balances the first opener,
	// or 0 when the input ends first
	end int
	// open holds unclosed openers at the end of input
	open []byte
	// inString is true when the input ends inside a string
	inString bool
	// escaped is true when the input ends with a pending escape
	escaped bool
}

// scan walks s honoring strings and escapes,
// and stops when the first opener is balanced.
func scan(s string) scanState {
	var st scanState
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case st.escaped:
				st.escaped = false
			case c == '\\':
				st.escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}

		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.open = append(st.open, c)
		case '}', ']':
			if len(st.open) > 0 {
				st.open = st.open[:len(st.open)-1]
			}
			if len(st.open) == 0 {
				st.end = i + 1
				return st
			}
		}
	}
	return st
}

func callsFrom(js string) ([]tools.Call, error) {
	v := gjson.Parse(js)
	switch {
	case v.IsObject():
		c, err := callFrom(v)
		if err != nil {
			return nil, err
		}
		return []tools.Call{c}, nil
	case v.IsArray():
		items := v.Array()
		if len(items) == 0 {
			return nil, &ParseError{Reason: "action list is empty"}
		}
		calls := make([]tools.Call, 0, len(items))
		for i, item := range items {
			c, err := callFrom(item)
			if err != nil {
				var perr *ParseError
				if errors.As(err, &perr) {
					perr.Reason = "action " + strconv.Itoa(i) + ": " + perr.Reason
				}
				return nil, err
			}
			calls = append(calls, c)
		}
		return calls, nil
	}
	return nil, &ParseError{Reason: "action is not a JSON object"}
}

func callFrom(v gjson.Result) (tools.Call, error) {
	if !v.IsObject() {
		return tools.Call{}, &ParseError{Reason: "action is not a JSON object"}
	}

	var name string
	for _, f := range nameFields {
		if r := v.Get(f); r.Type == gjson.String {
			if name = strings.TrimSpace(r.Str); name != "" {
				break
			}
		}
	}
	if name == "" {
		return tools.Call{}, &ParseError{Reason: "action has no tool name"}
	}

	args := map[string]any{}
	for _, f := range argumentsFields {
		r := v.Get(f)
		if !r.Exists() {
			continue
		}

		raw := r.Raw
		switch {
		case r.IsObject():
		case r.Type == gjson.Null:
			raw = ""
		case r.Type == gjson.String:
			// arguments encoded as a JSON string
			raw = strings.TrimSpace(r.Str)
			if raw != "" && !gjson.Parse(raw).IsObject() {
				return tools.Call{}, &ParseError{Reason: "arguments of " + name + " must be an object"}
			}
		default:
			return tools.Call{}, &ParseError{Reason: "arguments of " + name + " must be an object"}
		}

		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return tools.Call{}, &ParseError{Reason: "invalid arguments of " + name, Err: err}
			}
		}
		break
	}

	return tools.Call{Name: name, Arguments: args}, nil
}
