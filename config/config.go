package config

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/agent"
	"github.com/effective-security/reagent/encoding"
	"github.com/effective-security/reagent/pkg/prompts"
	"github.com/effective-security/reagent/rpc"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/reagent", "config")

var validate = validator.New()

type Config struct {
	// Agent specifies the reasoning loop settings
	Agent AgentConfig `json:"agent" yaml:"agent"`
	// Servers specifies the tool servers to attach
	Servers []*ServerConfig `json:"servers,omitempty" yaml:"servers,omitempty" validate:"dive"`
}

// AgentConfig specifies the reasoning loop settings,
// zero values keep the defaults
type AgentConfig struct {
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty" validate:"gte=0"`
	// ToolTimeout is a duration, like 30s
	ToolTimeout    string `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty" validate:"gte=0"`
	// BatchMode is enabled when not set
	BatchMode             *bool `json:"batch_mode,omitempty" yaml:"batch_mode,omitempty"`
	ParseFailureTolerance int   `json:"parse_failure_tolerance,omitempty" yaml:"parse_failure_tolerance,omitempty" validate:"gte=0"`
	// Preamble replaces the default role preamble of the prompt
	Preamble string `json:"preamble,omitempty" yaml:"preamble,omitempty"`
	// TraceFormat is json, yaml or toml
	TraceFormat string `json:"trace_format,omitempty" yaml:"trace_format,omitempty"`
}

// ServerConfig specifies a tool server,
// started as a child process with Command, or reached at Address over TCP
type ServerConfig struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Address string   `json:"address,omitempty" yaml:"address,omitempty" validate:"omitempty,hostname_port"`
	// Prefix is prepended to the remote tool names
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// RequestTimeout is a duration, like 1m
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	Disabled       bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %s", file)
	}
	return cfg, nil
}

// Validate returns error if the config is not valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithStack(err)
	}
	if _, err := parseDuration(c.Agent.ToolTimeout); err != nil {
		return errors.WithMessage(err, "tool_timeout")
	}
	if _, err := encoding.ParseMode(c.Agent.TraceFormat); err != nil {
		return errors.WithMessage(err, "trace_format")
	}

	names := map[string]bool{}
	for _, s := range c.Servers {
		if names[s.Name] {
			return errors.Newf("duplicate server name: %s", s.Name)
		}
		names[s.Name] = true
		if (s.Command == "") == (s.Address == "") {
			return errors.Newf("server %s must have either command or address", s.Name)
		}
		if _, err := parseDuration(s.RequestTimeout); err != nil {
			return errors.WithMessagef(err, "request_timeout of %s", s.Name)
		}
	}
	return nil
}

// TraceMode returns the encoding of session traces
func (c *Config) TraceMode() encoding.Mode {
	mode, err := encoding.ParseMode(c.Agent.TraceFormat)
	if err != nil {
		return encoding.ModeDefault
	}
	return mode
}

// Options returns the loop options for the settings
func (c *AgentConfig) Options() ([]agent.Option, error) {
	var opts []agent.Option
	if c.MaxSteps > 0 {
		opts = append(opts, agent.WithMaxSteps(c.MaxSteps))
	}
	timeout, err := parseDuration(c.ToolTimeout)
	if err != nil {
		return nil, errors.WithMessage(err, "tool_timeout")
	}
	if timeout > 0 {
		opts = append(opts, agent.WithToolTimeout(timeout))
	}
	if c.MaxConcurrency > 0 {
		opts = append(opts, agent.WithMaxConcurrency(c.MaxConcurrency))
	}
	if c.BatchMode != nil {
		opts = append(opts, agent.WithBatchMode(*c.BatchMode))
	}
	if c.ParseFailureTolerance > 0 {
		opts = append(opts, agent.WithParseFailureTolerance(c.ParseFailureTolerance))
	}
	if c.Preamble != "" {
		opts = append(opts, agent.WithBuilder(prompts.NewBuilder(prompts.WithPreamble(c.Preamble))))
	}
	return opts, nil
}

// Attach connects to the enabled servers and registers their tools in the federation.
// On error the servers attached by this call are detached.
func Attach(ctx context.Context, fed *rpc.Federation, servers []*ServerConfig) error {
	var attached []string
	for _, s := range servers {
		if s.Disabled {
			logger.ContextKV(ctx, xlog.DEBUG, "server", s.Name, "status", "disabled")
			continue
		}
		if err := attach(ctx, fed, s); err != nil {
			for _, name := range attached {
				_ = fed.Detach(name)
			}
			return errors.WithMessagef(err, "server %s", s.Name)
		}
		attached = append(attached, s.Name)
	}
	return nil
}

func attach(ctx context.Context, fed *rpc.Federation, s *ServerConfig) error {
	timeout, err := parseDuration(s.RequestTimeout)
	if err != nil {
		return err
	}
	opts := []rpc.ClientOption{rpc.WithName(s.Name)}
	if timeout > 0 {
		opts = append(opts, rpc.WithRequestTimeout(timeout))
	}
	discover := []rpc.DiscoverOption{rpc.WithPrefix(s.Prefix)}

	var descs int
	if s.Command != "" {
		p, err := rpc.StartProcess(ctx, s.Command, s.Args, opts...)
		if err != nil {
			return err
		}
		list, err := fed.AttachProcess(ctx, s.Name, p, discover...)
		if err != nil {
			_ = p.Close()
			return err
		}
		descs = len(list)
	} else {
		c, err := rpc.Dial(ctx, "tcp", s.Address, opts...)
		if err != nil {
			return err
		}
		list, err := fed.Attach(ctx, s.Name, c, discover...)
		if err != nil {
			_ = c.Close()
			return err
		}
		descs = len(list)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"server", s.Name,
		"endpoint", values.StringsCoalesce(s.Command, s.Address),
		"tools", descs,
	)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if d < 0 {
		return 0, errors.Newf("negative duration: %s", s)
	}
	return d, nil
}
