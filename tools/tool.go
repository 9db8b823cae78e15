package tools

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/llmutils"
)

var (
	// ErrDuplicateTool is returned when a tool with the same name is already registered
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrInvalidDescriptor is returned when a tool descriptor fails validation
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
	// ErrToolNotFound is returned when a tool is not registered
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArgument is returned when arguments do not match the tool parameters
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFailedUnmarshalInput is returned when typed tool input can not be decoded
	ErrFailedUnmarshalInput = errors.New("failed to unmarshal input")
)

// KindedError is a handler error that carries its ErrorKind,
// the invoker reports it with that kind instead of ToolFailure
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// ParamType is the declared JSON type of a tool parameter
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
	TypeAny     ParamType = "any"
)

// Parameter describes a single named tool argument
type Parameter struct {
	Name        string    `json:"name" yaml:"name" validate:"required"`
	Type        ParamType `json:"type" yaml:"type" validate:"required,oneof=string number integer boolean object array any"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Descriptor describes a tool to the model and to the invoker
type Descriptor struct {
	Name        string      `json:"name" yaml:"name" validate:"required,max=128"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`
}

// Parameter returns the parameter by name
func (d *Descriptor) Parameter(name string) (*Parameter, bool) {
	for i := range d.Parameters {
		if d.Parameters[i].Name == name {
			return &d.Parameters[i], true
		}
	}
	return nil, false
}

// Call is a tool invocation requested by the model
type Call struct {
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
}

func (c Call) String() string {
	return c.Name + llmutils.ToJSON(c.Arguments)
}

// ErrorKind classifies failures
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindInvalidArgument   ErrorKind = "InvalidArgument"
	ErrorKindToolNotFound      ErrorKind = "ToolNotFound"
	ErrorKindToolFailure       ErrorKind = "ToolFailure"
	ErrorKindTimeout           ErrorKind = "Timeout"
	ErrorKindCancelled         ErrorKind = "Cancelled"
	ErrorKindParseError        ErrorKind = "ParseError"
	ErrorKindCompletionFailure ErrorKind = "CompletionFailure"
	ErrorKindProtocolError     ErrorKind = "ProtocolError"
	ErrorKindConnectionError   ErrorKind = "ConnectionError"
)

// Result is the outcome of a single tool invocation,
// exactly one of Value or ErrorKind is meaningful
type Result struct {
	OK           bool          `json:"ok" yaml:"ok"`
	Value        any           `json:"value,omitempty" yaml:"value,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Success returns successful Result
func Success(value any) Result {
	return Result{OK: true, Value: value}
}

// Failure returns failed Result
func Failure(kind ErrorKind, format string, args ...any) Result {
	return Result{
		ErrorKind:    kind,
		ErrorMessage: fmt.Sprintf(format, args...),
	}
}

// Observation returns the text fed back to the model
func (r Result) Observation() string {
	if r.OK {
		return llmutils.Stringify(r.Value)
	}
	return fmt.Sprintf("%s: %s", r.ErrorKind, r.ErrorMessage)
}

// Err returns error for failed Result, or nil
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return errors.Newf("%s: %s", r.ErrorKind, r.ErrorMessage)
}
