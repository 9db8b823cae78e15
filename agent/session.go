package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/encoding"
	"github.com/effective-security/reagent/pkg/prompts"
	"github.com/effective-security/reagent/tools"
)

// Step is a recorded reasoning step, immutable once appended to a Session
type Step struct {
	Index   int    `json:"index" yaml:"index"`
	Thought string `json:"thought,omitempty" yaml:"thought,omitempty"`
	// Action is the first tool call of the step
	Action *tools.Call `json:"action,omitempty" yaml:"action,omitempty"`
	// Actions is set when the step requested more than one call
	Actions []tools.Call `json:"actions,omitempty" yaml:"actions,omitempty"`
	// Observation is set for every step with an action,
	// and for a tolerated parse failure
	Observation *string        `json:"observation,omitempty" yaml:"observation,omitempty"`
	Results     []tools.Result `json:"results,omitempty" yaml:"results,omitempty"`
	// Response is the raw model reply
	Response  string        `json:"response,omitempty" yaml:"response,omitempty"`
	State     State         `json:"state" yaml:"state"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Calls returns the tool calls of the step in request order
func (s *Step) Calls() []tools.Call {
	if len(s.Actions) > 0 {
		return s.Actions
	}
	if s.Action != nil {
		return []tools.Call{*s.Action}
	}
	return nil
}

// Session is the state of a single Solve call
type Session struct {
	ID        string `json:"id" yaml:"id"`
	Task      string `json:"task" yaml:"task"`
	Steps     []Step `json:"steps" yaml:"steps"`
	State     State  `json:"state" yaml:"state"`
	StepCount int    `json:"step_count" yaml:"step_count"`
	MaxSteps  int    `json:"max_steps" yaml:"max_steps"`

	finalAnswer *string
	errKind     tools.ErrorKind
	err         error
	parseErrors int
}

func newSession(id, task string, maxSteps int) *Session {
	return &Session{
		ID:       id,
		Task:     task,
		State:    StateThinking,
		MaxSteps: maxSteps,
	}
}

func (s *Session) transition(next State) {
	if !s.State.CanTransition(next) {
		// only the loop moves the state
		panic(errors.Wrapf(ErrInvalidTransition, "%s to %s", s.State, next))
	}
	s.State = next
}

func (s *Session) fail(kind tools.ErrorKind, err error) {
	s.transition(StateError)
	s.errKind = kind
	s.err = err
}

// turns returns the history for the prompt
func (s *Session) turns() []prompts.Turn {
	list := make([]prompts.Turn, 0, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		list = append(list, prompts.Turn{
			Thought:     step.Thought,
			Actions:     step.Calls(),
			Observation: step.Observation,
		})
	}
	return list
}

// SessionResult is returned by Solve
type SessionResult struct {
	SessionID   string          `json:"session_id" yaml:"session_id"`
	Task        string          `json:"task" yaml:"task"`
	FinalAnswer *string         `json:"final_answer,omitempty" yaml:"final_answer,omitempty"`
	Outcome     Outcome         `json:"outcome" yaml:"outcome"`
	Steps       []Step          `json:"steps" yaml:"steps"`
	StepCount   int             `json:"step_count" yaml:"step_count"`
	MaxSteps    int             `json:"max_steps" yaml:"max_steps"`
	Elapsed     time.Duration   `json:"elapsed" yaml:"elapsed"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind   tools.ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	err error
}

// Answer returns the final answer, or empty string
func (r *SessionResult) Answer() string {
	if r.FinalAnswer == nil {
		return ""
	}
	return *r.FinalAnswer
}

// Err returns the error that ended the session with OutcomeError,
// the step limit error for OutcomeStepLimitExceeded, or nil
func (r *SessionResult) Err() error {
	if r.Outcome == OutcomeFinished {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.Newf("%s: %s", r.ErrorKind, r.Error)
}

// Observations returns the observations of all steps, in order
func (r *SessionResult) Observations() []string {
	var list []string
	for _, s := range r.Steps {
		if s.Observation != nil {
			list = append(list, *s.Observation)
		}
	}
	return list
}

// Encode returns the result rendered in the given mode
func (r *SessionResult) Encode(mode encoding.Mode) ([]byte, error) {
	bs, err := encoding.Marshal(mode, r)
	if err != nil {
		return nil, errors.WithMessagef(err, "session %s", r.SessionID)
	}
	return bs, nil
}

// DecodeSessionResult reads a result written by Encode
func DecodeSessionResult(mode encoding.Mode, data []byte) (*SessionResult, error) {
	res := new(SessionResult)
	if err := encoding.Unmarshal(mode, data, res); err != nil {
		return nil, err
	}
	if res.Outcome == "" {
		return nil, errors.New("session result has no outcome")
	}
	return res, nil
}

func newResult(sess *Session, elapsed time.Duration) *SessionResult {
	res := &SessionResult{
		SessionID: sess.ID,
		Task:      sess.Task,
		Steps:     sess.Steps,
		StepCount: sess.StepCount,
		MaxSteps:  sess.MaxSteps,
		Elapsed:   elapsed,
	}

	switch sess.State {
	case StateFinished:
		res.Outcome = OutcomeFinished
		res.FinalAnswer = sess.finalAnswer
	case StateError:
		res.Outcome = OutcomeError
		res.ErrorKind = sess.errKind
		res.err = sess.err
		if sess.err != nil {
			res.Error = sess.err.Error()
		}
	default:
		res.Outcome = OutcomeStepLimitExceeded
		res.err = errors.Wrapf(ErrStepLimitExceeded, "no final answer after %d steps", sess.StepCount)
		res.Error = res.err.Error()
	}
	if res.Steps == nil {
		res.Steps = []Step{}
	}
	return res
}

// observe returns the observation text of the step results
func observe(calls []tools.Call, results []tools.Result) string {
	if len(results) == 1 {
		return results[0].Observation()
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, calls[i].Name, r.Observation())
	}
	return b.String()
}
