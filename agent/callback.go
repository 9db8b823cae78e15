package agent

import (
	"context"

	"github.com/effective-security/reagent/tools"
)

// Callback receives session events, in addition to tool invocation events
type Callback interface {
	tools.Callback

	OnSessionStart(ctx context.Context, task string)
	// OnStep is called after a step is appended to the session
	OnStep(ctx context.Context, step Step)
	OnParseError(ctx context.Context, response string, err error)
	OnSessionEnd(ctx context.Context, res *SessionResult)
}

// NoopCallback does nothing.
type NoopCallback struct{}

func NewNoopCallback() *NoopCallback {
	return &NoopCallback{}
}

var _ Callback = (*NoopCallback)(nil)

func (l *NoopCallback) OnSessionStart(ctx context.Context, task string)              {}
func (l *NoopCallback) OnStep(ctx context.Context, step Step)                        {}
func (l *NoopCallback) OnParseError(ctx context.Context, response string, err error) {}
func (l *NoopCallback) OnSessionEnd(ctx context.Context, res *SessionResult)         {}
func (l *NoopCallback) OnToolNotFound(ctx context.Context, name string)              {}
func (l *NoopCallback) OnToolStart(ctx context.Context, tool tools.Descriptor, args map[string]any) {
}
func (l *NoopCallback) OnToolEnd(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
}
func (l *NoopCallback) OnToolError(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
}
