package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/parser"
	"github.com/effective-security/reagent/pkg/metricskey"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/reagent", "agent")

// Loop solves tasks with the model and the registered tools.
// A Loop is safe for concurrent Solve calls, sessions share only the registry.
type Loop struct {
	completer Completer
	registry  *tools.Registry
	invoker   *tools.Invoker
	cfg       *Config
}

// NewLoop returns Loop
func NewLoop(completer Completer, registry *tools.Registry, opts ...Option) *Loop {
	cfg := NewConfig(opts...)
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Loop{
		completer: completer,
		registry:  registry,
		cfg:       cfg,
		invoker: tools.NewInvoker(
			tools.WithTimeout(cfg.ToolTimeout),
			tools.WithMaxConcurrency(cfg.MaxConcurrency),
			tools.WithCallback(cfg.Callback),
		),
	}
}

// Registry returns the tool registry of the loop
func (l *Loop) Registry() *tools.Registry {
	return l.registry
}

// Config returns the loop configuration
func (l *Loop) Config() *Config {
	return l.cfg
}

// Solve runs a session with the configured step budget
func (l *Loop) Solve(ctx context.Context, task string) *SessionResult {
	return l.SolveN(ctx, task, l.cfg.MaxSteps)
}

// SolveN runs a session bounded by maxSteps reasoning steps,
// the configured budget is used when maxSteps is not positive.
// The result always has one of the terminal outcomes.
func (l *Loop) SolveN(ctx context.Context, task string, maxSteps int) (res *SessionResult) {
	if maxSteps <= 0 {
		maxSteps = l.cfg.MaxSteps
	}
	sessCtx := GetSessionContext(ctx)
	if sessCtx == nil {
		sessCtx = NewSessionContext("", nil)
		ctx = WithSessionContext(ctx, sessCtx)
	}

	started := time.Now()
	sess := newSession(sessCtx.GetSessionID(), task, maxSteps)
	cb := l.cfg.Callback

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "started",
		"session", sess.ID,
		"max_steps", maxSteps,
		"task", slices.StringUpto(task, 64),
	)
	cb.OnSessionStart(ctx, task)

	defer func() {
		if r := recover(); r != nil {
			kind := tools.ErrorKindCompletionFailure
			if sess.State == StateActing || sess.State == StateObserving {
				kind = tools.ErrorKindToolFailure
			}
			logger.ContextKV(ctx, xlog.ERROR,
				"session", sess.ID,
				"reason", "panic",
				"err", r,
				"stack", string(debug.Stack()),
			)
			sess.State = StateError
			sess.errKind = kind
			sess.err = errors.Newf("panic: %v", r)
			res = l.finish(ctx, sess, started)
		}
	}()

	for !sess.State.IsTerminal() && sess.StepCount < sess.MaxSteps {
		if err := ctx.Err(); err != nil {
			sess.fail(tools.ErrorKindCancelled, errors.Wrap(err, "session cancelled"))
			break
		}
		l.step(ctx, sess)
	}

	return l.finish(ctx, sess, started)
}

func (l *Loop) finish(ctx context.Context, sess *Session, started time.Time) *SessionResult {
	res := newResult(sess, time.Since(started))

	metricskey.StatsAgentSessions.IncrCounter(1, string(res.Outcome))
	metricskey.PerfAgentSession.MeasureSince(started, string(res.Outcome))

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "finished",
		"session", sess.ID,
		"outcome", res.Outcome,
		"steps", res.StepCount,
		"kind", res.ErrorKind,
		"elapsed", res.Elapsed.String(),
	)
	l.cfg.Callback.OnSessionEnd(ctx, res)
	return res
}

// step runs one Thinking round and the Acting and Observing states it leads to
func (l *Loop) step(ctx context.Context, sess *Session) {
	sess.StepCount++
	step := Step{
		Index:     sess.StepCount,
		State:     StateThinking,
		StartedAt: time.Now(),
	}

	prompt, err := l.cfg.Builder.Build(sess.Task, l.registry.List(), sess.turns())
	if err != nil {
		l.abort(ctx, sess, &step, tools.ErrorKindCompletionFailure, errors.WithMessage(err, "failed to build prompt"))
		return
	}

	raw, err := l.completer.Complete(ctx, prompt, append([]Step(nil), sess.Steps...))
	if err != nil {
		kind := tools.ErrorKindCompletionFailure
		if ctx.Err() != nil {
			kind = tools.ErrorKindCancelled
		}
		l.abort(ctx, sess, &step, kind, errors.WithMessage(err, "completion failed"))
		return
	}
	step.Response = raw

	resp, err := parser.ParseResponse(raw)
	if err != nil {
		l.parseFailed(ctx, sess, &step, raw, err)
		return
	}
	sess.parseErrors = 0
	step.Thought = resp.Thought

	switch {
	case resp.FinalAnswer != nil:
		sess.transition(StateFinished)
		sess.finalAnswer = resp.FinalAnswer
	case len(resp.Actions) > 0:
		sess.transition(StateActing)
		step.Action = resp.Action
		if len(resp.Actions) > 1 {
			step.Actions = resp.Actions
		}

		step.Results = l.invoke(ctx, resp.Actions)
		sess.transition(StateObserving)
		obs := observe(resp.Actions, step.Results)
		step.Observation = &obs

		if err = ctx.Err(); err != nil {
			l.abort(ctx, sess, &step, tools.ErrorKindCancelled, errors.Wrap(err, "session cancelled"))
			return
		}
		step.State = StateObserving
		l.record(ctx, sess, &step)
		sess.transition(StateThinking)
		return
	default:
		// thought only, the step still counts
		sess.transition(StateThinking)
	}

	step.State = sess.State
	l.record(ctx, sess, &step)
}

func (l *Loop) invoke(ctx context.Context, calls []tools.Call) []tools.Result {
	if l.cfg.BatchMode && len(calls) > 1 {
		return l.invoker.InvokeBatch(ctx, l.registry, calls)
	}
	results := make([]tools.Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, l.invoker.Call(ctx, l.registry, call))
	}
	return results
}

func (l *Loop) parseFailed(ctx context.Context, sess *Session, step *Step, raw string, err error) {
	tolerated := sess.parseErrors < l.cfg.ParseFailureTolerance
	metricskey.StatsAgentParseErrors.IncrCounter(1, strconv.FormatBool(tolerated))
	l.cfg.Callback.OnParseError(ctx, raw, err)

	var perr *parser.ParseError
	if errors.As(err, &perr) {
		step.Thought = perr.Thought
	}
	if !tolerated {
		l.abort(ctx, sess, step, tools.ErrorKindParseError, err)
		return
	}

	sess.parseErrors++
	obs := fmt.Sprintf("%s: %s", tools.ErrorKindParseError, strings.TrimPrefix(err.Error(), "parse error: "))
	step.Observation = &obs
	sess.transition(StateThinking)
	step.State = StateThinking
	l.record(ctx, sess, step)
}

// abort records the step and moves the session to Error
func (l *Loop) abort(ctx context.Context, sess *Session, step *Step, kind tools.ErrorKind, err error) {
	sess.fail(kind, err)
	step.State = StateError
	l.record(ctx, sess, step)

	logger.ContextKV(ctx, xlog.WARNING,
		"session", sess.ID,
		"step", step.Index,
		"kind", kind,
		"err", slices.StringUpto(err.Error(), 256),
	)
}

func (l *Loop) record(ctx context.Context, sess *Session, step *Step) {
	step.Duration = time.Since(step.StartedAt)
	sess.Steps = append(sess.Steps, *step)

	metricskey.StatsAgentSteps.IncrCounter(1, string(step.State))
	l.cfg.Callback.OnStep(ctx, *step)
}
