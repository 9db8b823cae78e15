package agent

import (
	"time"

	"github.com/effective-security/reagent/pkg/prompts"
	"github.com/effective-security/reagent/tools"
)

// DefaultMaxSteps is the step budget when none is given
const DefaultMaxSteps = 10

// Option is a function that can be used to modify the behavior of the Loop Config.
type Option func(*Config)

type Config struct {
	// MaxSteps is the default step budget of Solve
	MaxSteps int
	// ToolTimeout bounds a single tool invocation
	ToolTimeout time.Duration
	// MaxConcurrency limits concurrent calls of a batch, 0 is unlimited
	MaxConcurrency int
	// BatchMode runs the calls of a multi-call Action concurrently,
	// otherwise they run one after another
	BatchMode bool
	// ParseFailureTolerance is the number of consecutive unparsable replies
	// fed back to the model as an observation before the session fails
	ParseFailureTolerance int

	Callback Callback
	Builder  *prompts.Builder
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxSteps:    DefaultMaxSteps,
		ToolTimeout: tools.DefaultTimeout,
		BatchMode:   true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ParseFailureTolerance < 0 {
		cfg.ParseFailureTolerance = 0
	}
	if cfg.Callback == nil {
		cfg.Callback = NewNoopCallback()
	}
	if cfg.Builder == nil {
		cfg.Builder = prompts.NewBuilder()
	}
	return cfg
}

// WithMaxSteps sets the default step budget.
func WithMaxSteps(n int) Option {
	return func(o *Config) {
		o.MaxSteps = n
	}
}

// WithToolTimeout sets the timeout of a single tool invocation.
func WithToolTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.ToolTimeout = timeout
	}
}

// WithMaxConcurrency limits concurrent calls of a batch.
func WithMaxConcurrency(n int) Option {
	return func(o *Config) {
		o.MaxConcurrency = n
	}
}

// WithBatchMode enables concurrent calls of a multi-call Action.
func WithBatchMode(enabled bool) Option {
	return func(o *Config) {
		o.BatchMode = enabled
	}
}

// WithParseFailureTolerance allows n consecutive unparsable replies
// to be reported back to the model instead of failing the session.
func WithParseFailureTolerance(n int) Option {
	return func(o *Config) {
		o.ParseFailureTolerance = n
	}
}

// WithCallback sets the session and tool events handler.
func WithCallback(cb Callback) Option {
	return func(o *Config) {
		o.Callback = cb
	}
}

// WithBuilder sets the prompt builder.
func WithBuilder(b *prompts.Builder) Option {
	return func(o *Config) {
		o.Builder = b
	}
}
