package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the default tool invocation timeout
const DefaultTimeout = 30 * time.Second

// Callback receives tool invocation events
type Callback interface {
	OnToolStart(ctx context.Context, tool Descriptor, args map[string]any)
	OnToolEnd(ctx context.Context, tool Descriptor, args map[string]any, res Result)
	OnToolError(ctx context.Context, tool Descriptor, args map[string]any, res Result)
	OnToolNotFound(ctx context.Context, name string)
}

// Config for Invoker
type Config struct {
	// Timeout for a single invocation
	Timeout time.Duration
	// MaxConcurrency limits concurrent invocations in a batch, 0 is unlimited
	MaxConcurrency int
	// Callback is notified about every invocation
	Callback Callback
}

type Option func(*Config)

// WithTimeout sets the invocation timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxConcurrency limits concurrent invocations in a batch
func WithMaxConcurrency(n int) Option {
	return func(c *Config) {
		c.MaxConcurrency = n
	}
}

// WithCallback sets invocation callback
func WithCallback(cb Callback) Option {
	return func(c *Config) {
		c.Callback = cb
	}
}

// NewConfig returns Config with defaults applied
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// Invoker runs tools and converts every outcome into a Result
type Invoker struct {
	cfg *Config
}

// NewInvoker returns Invoker
func NewInvoker(opts ...Option) *Invoker {
	return &Invoker{cfg: NewConfig(opts...)}
}

// Timeout returns the configured invocation timeout
func (i *Invoker) Timeout() time.Duration {
	return i.cfg.Timeout
}

// Call resolves the tool in the registry and invokes it
func (i *Invoker) Call(ctx context.Context, reg *Registry, call Call) Result {
	desc, h, ok := reg.Lookup(call.Name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, call.Name)
		if i.cfg.Callback != nil {
			i.cfg.Callback.OnToolNotFound(ctx, call.Name)
		}
		logger.ContextKV(ctx, xlog.WARNING, "reason", "not_found", "tool", call.Name)

		res := Failure(ErrorKindToolNotFound, "tool %q is not registered; available tools: %s",
			call.Name, strings.Join(reg.Names(), ", "))
		return res
	}
	return i.Invoke(ctx, desc, h, call.Arguments)
}

// InvokeBatch runs the calls concurrently and returns results in input order
func (i *Invoker) InvokeBatch(ctx context.Context, reg *Registry, calls []Call) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	if i.cfg.MaxConcurrency > 0 {
		g.SetLimit(i.cfg.MaxConcurrency)
	}
	for idx, call := range calls {
		g.Go(func() error {
			results[idx] = i.Call(ctx, reg, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Invoke validates args and runs the handle under the configured timeout.
// It never panics and never returns an error: every failure is reported in Result.
func (i *Invoker) Invoke(ctx context.Context, desc Descriptor, h Handle, args map[string]any) Result {
	started := time.Now()

	if i.cfg.Callback != nil {
		i.cfg.Callback.OnToolStart(ctx, desc, args)
	}

	res := i.invoke(ctx, desc, h, args)
	res.Elapsed = time.Since(started)

	metricskey.PerfToolCall.MeasureSince(started, desc.Name)
	if res.OK {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, desc.Name)
		if i.cfg.Callback != nil {
			i.cfg.Callback.OnToolEnd(ctx, desc, args, res)
		}
	} else {
		metricskey.StatsToolCallsFailed.IncrCounter(1, desc.Name, string(res.ErrorKind))
		if i.cfg.Callback != nil {
			i.cfg.Callback.OnToolError(ctx, desc, args, res)
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"tool", desc.Name,
			"kind", res.ErrorKind,
			"err", slices.StringUpto(res.ErrorMessage, 256),
		)
	}
	return res
}

type outcome struct {
	value any
	err   error
}

func (i *Invoker) invoke(ctx context.Context, desc Descriptor, h Handle, args map[string]any) Result {
	if h == nil {
		return Failure(ErrorKindToolFailure, "tool %q has no handle", desc.Name)
	}

	prepared, err := PrepareArguments(desc, args)
	if err != nil {
		return Failure(ErrorKindInvalidArgument, "%s", err.Error())
	}

	if err := ctx.Err(); err != nil {
		return Failure(ErrorKindCancelled, "%s", err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ContextKV(ctx, xlog.ERROR,
					"reason", "panic",
					"tool", desc.Name,
					"err", r,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: errors.Newf("panic: %v", r)}
			}
		}()
		v, err := h.Invoke(callCtx, prepared)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return Success(out.value)
		}
		switch {
		case ctx.Err() != nil:
			return Failure(ErrorKindCancelled, "%s", out.err.Error())
		case callCtx.Err() != nil && errors.Is(out.err, context.DeadlineExceeded):
			return timeoutFailure(desc, i.cfg.Timeout)
		case errors.Is(out.err, ErrInvalidArgument) || errors.Is(out.err, ErrFailedUnmarshalInput):
			return Failure(ErrorKindInvalidArgument, "%s", out.err.Error())
		}
		var kerr KindedError
		if errors.As(out.err, &kerr) && kerr.ErrorKind() != ErrorKindNone {
			return Failure(kerr.ErrorKind(), "%s", out.err.Error())
		}
		return Failure(ErrorKindToolFailure, "%s", out.err.Error())
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return Failure(ErrorKindCancelled, "%s", err.Error())
		}
		// the handler keeps running in background, its result is discarded
		return timeoutFailure(desc, i.cfg.Timeout)
	}
}

func timeoutFailure(desc Descriptor, timeout time.Duration) Result {
	return Result{
		ErrorKind:    ErrorKindTimeout,
		ErrorMessage: fmt.Sprintf("tool %q did not complete within %s", desc.Name, timeout),
	}
}
