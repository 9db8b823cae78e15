package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/reagent/agent"
	"github.com/effective-security/reagent/pkg/llmutils"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ agent.Callback = (*Noop)(nil)
	_ agent.Callback = (*Printer)(nil)
	_ agent.Callback = (*PackageLogger)(nil)
	_ agent.Callback = (*Fanout)(nil)
	_ agent.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []agent.Callback
}

func NewFanout(callbacks ...agent.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback agent.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnSessionStart(ctx context.Context, task string) {
	for _, callback := range l.callbacks {
		callback.OnSessionStart(ctx, task)
	}
}

func (l *Fanout) OnStep(ctx context.Context, step agent.Step) {
	for _, callback := range l.callbacks {
		callback.OnStep(ctx, step)
	}
}

func (l *Fanout) OnParseError(ctx context.Context, response string, err error) {
	for _, callback := range l.callbacks {
		callback.OnParseError(ctx, response, err)
	}
}

func (l *Fanout) OnSessionEnd(ctx context.Context, res *agent.SessionResult) {
	for _, callback := range l.callbacks {
		callback.OnSessionEnd(ctx, res)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, tool tools.Descriptor, args map[string]any) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, args)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, args, res)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, args, res)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, name string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, name)
	}
}

// Noop does nothing.
type Noop struct {
	agent.NoopCallback
}

func NewNoop() *Noop {
	return &Noop{}
}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnSessionStart(ctx context.Context, task string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Session Start: %s\n", agent.GetSessionID(ctx))
	fmt.Fprintf(l.Out, "Task: %s\n", task)
}

func (l *Printer) OnStep(ctx context.Context, step agent.Step) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Step %d: %s\n", step.Index, step.State)
	if step.Thought != "" {
		fmt.Fprintf(l.Out, "Thought: %s\n", step.Thought)
	}
	for _, call := range step.Calls() {
		fmt.Fprintf(l.Out, "Action: %s\n", call.String())
	}
	if step.Observation != nil {
		obs := *step.Observation
		if l.Mode != ModeVerbose {
			obs = slices.StringUpto(obs, 256)
		}
		fmt.Fprintf(l.Out, "Observation: %s\n", obs)
	}
}

func (l *Printer) OnParseError(ctx context.Context, response string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Parse Error: %s\n", err.Error())
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Response: %s\n", response)
	}
}

func (l *Printer) OnSessionEnd(ctx context.Context, res *agent.SessionResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Session End: %s: %s after %d steps\n", res.SessionID, res.Outcome, res.StepCount)
	switch {
	case res.FinalAnswer != nil:
		fmt.Fprintf(l.Out, "Final Answer: %s\n", *res.FinalAnswer)
	case res.Error != "":
		fmt.Fprintf(l.Out, "Error: %s\n", res.Error)
	}
}

func (l *Printer) OnToolStart(ctx context.Context, tool tools.Descriptor, args map[string]any) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", tool.Name)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Input: %s\n", llmutils.ToJSON(args))
	}
}

func (l *Printer) OnToolEnd(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", tool.Name, res.Elapsed)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", res.Observation())
	}
}

func (l *Printer) OnToolError(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", tool.Name, res.Observation())
}

func (l *Printer) OnToolNotFound(ctx context.Context, name string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", name)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnSessionStart(ctx context.Context, task string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "session_start",
		"session", agent.GetSessionID(ctx),
		"task", task,
	)
}

func (l *PackageLogger) OnStep(ctx context.Context, step agent.Step) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "step",
		"session", agent.GetSessionID(ctx),
		"step", step.Index,
		"state", step.State,
		"actions", len(step.Calls()),
		"duration", step.Duration.String(),
	)
}

func (l *PackageLogger) OnParseError(ctx context.Context, response string, err error) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "parse_error",
		"session", agent.GetSessionID(ctx),
		"err", err.Error(),
		"response", slices.StringUpto(response, 256),
	)
}

func (l *PackageLogger) OnSessionEnd(ctx context.Context, res *agent.SessionResult) {
	level := xlog.DEBUG
	if res.Outcome == agent.OutcomeError {
		level = xlog.ERROR
	}
	l.logger.ContextKV(ctx, level,
		"event", "session_end",
		"session", res.SessionID,
		"outcome", res.Outcome,
		"steps", res.StepCount,
		"kind", res.ErrorKind,
		"elapsed", res.Elapsed.String(),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool tools.Descriptor, args map[string]any) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool.Name,
		"input", llmutils.ToJSON(args),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", tool.Name,
		"output", slices.StringUpto(res.Observation(), 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", tool.Name,
		"kind", res.ErrorKind,
		"err", res.ErrorMessage,
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, name string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"tool", name,
	)
}
