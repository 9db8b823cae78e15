package parser

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/llmutils"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/reagent", "parser")

// Markers
const (
	MarkerThought     = "Thought:"
	MarkerAction      = "Action:"
	MarkerObservation = "Observation:"
	MarkerFinalAnswer = "Final Answer:"
)

// ParseError is returned when the reply has an Action block
// that could not be turned into tool calls.
type ParseError struct {
	// Raw is the original reply
	Raw string
	// Thought is the thought extracted before the failure
	Thought string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Reason + ": " + e.Err.Error()
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Response is a parsed reply
type Response struct {
	Thought string
	// Action is the first of Actions, nil when there is none
	Action *tools.Call
	// Actions has more than one call when the Action block is a JSON array
	Actions []tools.Call
	// FinalAnswer is set when the reply has a Final Answer marker,
	// even when its text is empty
	FinalAnswer *string
	// Repair is the heuristic that made the action JSON decode
	Repair Repair
}

// IsFinal returns true if the reply has a final answer
func (r *Response) IsFinal() bool {
	return r.FinalAnswer != nil
}

// Parse returns the thought, the first tool call and the final answer of the reply.
// A final answer takes priority over an action, and both are nil for a thought-only reply.
func Parse(raw string) (thought string, action *tools.Call, finalAnswer *string, err error) {
	resp, err := ParseResponse(raw)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			thought = perr.Thought
		}
		return thought, nil, nil, err
	}
	return resp.Thought, resp.Action, resp.FinalAnswer, nil
}

var markerRegex = regexp.MustCompile(`(?im)^[ \t>#*_]*(thought|action|observation|final[ _]answer)[ \t*_]*:[*_]*[ \t]*`)

type markerKind int

const (
	kindThought markerKind = iota
	kindAction
	kindObservation
	kindFinalAnswer
)

type section struct {
	kind markerKind
	// start is the offset of text in the reply
	start int
	text  string
}

func markerKindOf(name string) markerKind {
	switch strings.ToLower(name) {
	case "thought":
		return kindThought
	case "action":
		return kindAction
	case "observation":
		return kindObservation
	default:
		return kindFinalAnswer
	}
}

// split returns the text before the first marker and the marked sections
func split(text string) (string, []section) {
	locs := markerRegex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}

	sections := make([]section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{
			kind:  markerKindOf(text[loc[2]:loc[3]]),
			start: loc[1],
			text:  text[loc[1]:end],
		})
	}
	return text[:locs[0][0]], sections
}

// ParseResponse parses the reply
func ParseResponse(raw string) (*Response, error) {
	text := llmutils.RemoveAllComments(raw)
	preamble, sections := split(text)

	resp := new(Response)
	var actionAt = -1
	for i, s := range sections {
		switch s.kind {
		case kindThought:
			if resp.Thought == "" {
				resp.Thought = strings.TrimSpace(s.text)
			}
		case kindFinalAnswer:
			if resp.FinalAnswer == nil {
				answer := strings.TrimSpace(s.text)
				resp.FinalAnswer = &answer
			}
		case kindAction:
			if actionAt < 0 {
				actionAt = i
			}
		}
	}
	if resp.Thought == "" {
		resp.Thought = strings.TrimSpace(preamble)
	}

	if resp.FinalAnswer != nil || actionAt < 0 {
		return resp, nil
	}

	// the scan may run past the next marker when it appears inside a JSON string
	action := sections[actionAt]
	calls, repair, err := parseAction(text[action.start:], action.text)
	if err != nil {
		var perr *ParseError
		if !errors.As(err, &perr) {
			perr = &ParseError{Reason: "invalid action", Err: err}
		}
		perr.Raw = raw
		perr.Thought = resp.Thought
		logger.KV(xlog.DEBUG,
			"reason", perr.Reason,
			"raw", slices.StringUpto(raw, 256),
		)
		return nil, perr
	}

	resp.Actions = calls
	resp.Action = &resp.Actions[0]
	resp.Repair = repair
	return resp, nil
}
