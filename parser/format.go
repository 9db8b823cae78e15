package parser

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/tidwall/sjson"
)

// Format renders the response in canonical reply form,
// parsing the result yields the same thought, actions and final answer.
func Format(r *Response) (string, error) {
	var b strings.Builder
	b.WriteString(MarkerThought)
	b.WriteString(" ")
	b.WriteString(r.Thought)
	b.WriteString("\n")

	switch {
	case r.FinalAnswer != nil:
		b.WriteString(MarkerFinalAnswer)
		b.WriteString(" ")
		b.WriteString(*r.FinalAnswer)
		b.WriteString("\n")
	case len(r.Actions) > 0:
		js, err := FormatCalls(r.Actions)
		if err != nil {
			return "", err
		}
		b.WriteString(MarkerAction)
		b.WriteString(" ")
		b.WriteString(js)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// FormatCall returns canonical JSON of the call
func FormatCall(c tools.Call) (string, error) {
	js, err := sjson.Set("", "name", c.Name)
	if err != nil {
		return "", errors.WithStack(err)
	}
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	js, err = sjson.Set(js, "arguments", args)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode arguments of %s", c.Name)
	}
	return js, nil
}

// FormatCalls returns canonical JSON of the calls,
// a single call is an object and several calls are an array.
func FormatCalls(calls []tools.Call) (string, error) {
	if len(calls) == 1 {
		return FormatCall(calls[0])
	}

	js := "[]"
	for _, c := range calls {
		obj, err := FormatCall(c)
		if err != nil {
			return "", err
		}
		js, err = sjson.SetRaw(js, "-1", obj)
		if err != nil {
			return "", errors.WithStack(err)
		}
	}
	return js, nil
}
