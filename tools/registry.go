package tools

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/reagent", "tools")

var validate = validator.New()

type entry struct {
	desc   Descriptor
	handle Handle
}

// Registry is the catalog of tools available to the agent.
// Lookups are case insensitive, and List returns tools in registration order.
type Registry struct {
	lock    sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry returns empty Registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds the tool to the registry
func (r *Registry) Register(desc Descriptor, h Handle) error {
	if h == nil {
		return errors.Wrapf(ErrInvalidDescriptor, "tool %q: nil handle", desc.Name)
	}
	if err := ValidateDescriptor(desc); err != nil {
		return err
	}

	key := strings.ToLower(desc.Name)

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entries[key]; ok {
		return errors.Wrapf(ErrDuplicateTool, "tool %q", desc.Name)
	}
	r.entries[key] = &entry{desc: cloneDescriptor(desc), handle: h}
	r.order = append(r.order, key)

	logger.KV(xlog.DEBUG, "status", "registered", "tool", desc.Name, "kind", h.Kind())
	return nil
}

// RegisterFunc adds a local tool
func (r *Registry) RegisterFunc(desc Descriptor, fn HandlerFunc) error {
	if fn == nil {
		return errors.Wrapf(ErrInvalidDescriptor, "tool %q: nil handler", desc.Name)
	}
	return r.Register(desc, NewLocalHandle(fn))
}

// Unregister removes the tool, and returns false if it was not registered
func (r *Registry) Unregister(name string) bool {
	key := strings.ToLower(name)

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logger.KV(xlog.DEBUG, "status", "unregistered", "tool", name)
	return true
}

// Resolve returns the handle of the tool
func (r *Registry) Resolve(name string) (Handle, bool) {
	_, h, ok := r.Lookup(name)
	return h, ok
}

// Lookup returns the descriptor and the handle of the tool
func (r *Registry) Lookup(name string) (Descriptor, Handle, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	e, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, nil, false
	}
	return cloneDescriptor(e.desc), e.handle, true
}

// List returns the descriptors in registration order
func (r *Registry) List() []Descriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		list = append(list, cloneDescriptor(r.entries[key].desc))
	}
	return list
}

// Names returns the tool names in registration order
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]string, 0, len(r.order))
	for _, key := range r.order {
		list = append(list, r.entries[key].desc.Name)
	}
	return list
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.order)
}

// Fingerprint returns a hash of the current catalog,
// it changes whenever a tool is added, removed or replaced.
func (r *Registry) Fingerprint() uint64 {
	return Fingerprint(r.List())
}

// Fingerprint returns a hash of the descriptors
func Fingerprint(list []Descriptor) uint64 {
	h := xxhash.New()
	for _, d := range list {
		js, _ := json.Marshal(d)
		_, _ = h.Write(js)
		_, _ = h.Write([]byte{'\n'})
	}
	return h.Sum64()
}

// ValidateDescriptor returns ErrInvalidDescriptor if the descriptor is malformed
func ValidateDescriptor(desc Descriptor) error {
	if err := validate.Struct(desc); err != nil {
		return errors.Wrapf(ErrInvalidDescriptor, "tool %q: %s", desc.Name, err.Error())
	}
	if strings.ContainsAny(desc.Name, " \t\r\n") {
		return errors.Wrapf(ErrInvalidDescriptor, "tool %q: name must not contain whitespace", desc.Name)
	}
	seen := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if seen[p.Name] {
			return errors.Wrapf(ErrInvalidDescriptor, "tool %q: duplicate parameter %q", desc.Name, p.Name)
		}
		seen[p.Name] = true

		if p.Default != nil {
			if err := checkValue(p, p.Default); err != nil {
				return errors.Wrapf(ErrInvalidDescriptor, "tool %q: default: %s", desc.Name, err.Error())
			}
		}
	}
	return nil
}

func cloneDescriptor(d Descriptor) Descriptor {
	c := d
	if d.Parameters != nil {
		c.Parameters = make([]Parameter, len(d.Parameters))
		for i, p := range d.Parameters {
			if p.Enum != nil {
				p.Enum = append([]any(nil), p.Enum...)
			}
			c.Parameters[i] = p
		}
	}
	return c
}
