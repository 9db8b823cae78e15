package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/xlog"
)

// DiscoverOption configures Discover
type DiscoverOption func(*discoverConfig)

type discoverConfig struct {
	prefix string
}

// WithPrefix registers remote tools as prefix+name
func WithPrefix(prefix string) DiscoverOption {
	return func(c *discoverConfig) {
		c.prefix = prefix
	}
}

// Discover lists the server tools and registers one remote handle per tool.
// Nothing is registered if any name conflicts with an existing tool.
func Discover(ctx context.Context, c *Client, reg *tools.Registry, opts ...DiscoverOption) ([]tools.Descriptor, error) {
	cfg := &discoverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	list, err := c.ListTools(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list tools from %s", c.Name())
	}

	descs := make([]tools.Descriptor, 0, len(list))
	for _, t := range list {
		desc := tools.Descriptor{
			Name:        cfg.prefix + t.Name,
			Description: t.Description,
			Parameters:  tools.ParametersFromSchema(t.InputSchema),
		}
		if err := tools.ValidateDescriptor(desc); err != nil {
			return nil, errors.WithMessagef(err, "server %s", c.Name())
		}
		if _, ok := reg.Resolve(desc.Name); ok {
			return nil, errors.Wrapf(tools.ErrDuplicateTool, "server %s: tool %q", c.Name(), desc.Name)
		}
		descs = append(descs, desc)
	}

	for i, desc := range descs {
		if err := reg.Register(desc, tools.NewRemoteHandle(c, list[i].Name)); err != nil {
			// registered concurrently by someone else, roll back
			for _, d := range descs[:i] {
				reg.Unregister(d.Name)
			}
			return nil, errors.WithMessagef(err, "server %s", c.Name())
		}
	}

	logger.ContextKV(ctx, xlog.INFO, "server", c.Name(), "tools", len(descs))
	return descs, nil
}

// Federation tracks clients of several tool servers and the tools
// each one contributed to a shared registry.
type Federation struct {
	registry *tools.Registry

	lock    sync.Mutex
	clients map[string]*member
	order   []string
}

type member struct {
	client *Client
	closer io.Closer
	tools  []string
}

// NewFederation returns Federation over the registry
func NewFederation(reg *tools.Registry) *Federation {
	return &Federation{
		registry: reg,
		clients:  make(map[string]*member),
	}
}

// Attach discovers the client tools and registers them under the server name
func (f *Federation) Attach(ctx context.Context, name string, c *Client, opts ...DiscoverOption) ([]tools.Descriptor, error) {
	return f.attach(ctx, name, c, c, opts...)
}

// AttachProcess is Attach for a child process server,
// the process is stopped when the server is detached.
func (f *Federation) AttachProcess(ctx context.Context, name string, p *Process, opts ...DiscoverOption) ([]tools.Descriptor, error) {
	return f.attach(ctx, name, p.Client, p, opts...)
}

func (f *Federation) attach(ctx context.Context, name string, c *Client, closer io.Closer, opts ...DiscoverOption) ([]tools.Descriptor, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.clients[name]; ok {
		return nil, errors.Newf("server %q already attached", name)
	}

	descs, err := Discover(ctx, c, f.registry, opts...)
	if err != nil {
		return nil, err
	}

	m := &member{client: c, closer: closer}
	for _, d := range descs {
		m.tools = append(m.tools, d.Name)
	}
	f.clients[name] = m
	f.order = append(f.order, name)
	return descs, nil
}

// Client returns attached client by server name
func (f *Federation) Client(name string) (*Client, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	m, ok := f.clients[name]
	if !ok {
		return nil, false
	}
	return m.client, true
}

// Servers returns attached server names in attach order
func (f *Federation) Servers() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.order...)
}

// Detach unregisters the server tools and closes its client
func (f *Federation) Detach(name string) error {
	f.lock.Lock()
	m, ok := f.clients[name]
	if ok {
		delete(f.clients, name)
		for i, n := range f.order {
			if n == name {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	f.lock.Unlock()

	if !ok {
		return errors.Newf("server %q is not attached", name)
	}
	for _, t := range m.tools {
		f.registry.Unregister(t)
	}
	return m.closer.Close()
}

// Close detaches all servers
func (f *Federation) Close() error {
	var errs error
	for _, name := range f.Servers() {
		if err := f.Detach(name); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
