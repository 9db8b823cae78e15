package tools

import (
	"context"
)

// HandleKind identifies how a tool is executed
type HandleKind int

const (
	// Local is an in-process function
	Local HandleKind = iota
	// Remote is a tool hosted by a tool server
	Remote
)

func (k HandleKind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// HandlerFunc is the signature of a local tool
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// RemoteCaller executes a tool on a tool server
type RemoteCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Handle executes a registered tool.
// The set of handles is closed: use NewLocalHandle or NewRemoteHandle.
type Handle interface {
	Kind() HandleKind
	Invoke(ctx context.Context, args map[string]any) (any, error)

	handle()
}

// LocalHandle runs an in-process function
type LocalHandle struct {
	fn HandlerFunc
}

// NewLocalHandle returns Handle for the function
func NewLocalHandle(fn HandlerFunc) *LocalHandle {
	return &LocalHandle{fn: fn}
}

func (h *LocalHandle) Kind() HandleKind { return Local }

func (h *LocalHandle) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return h.fn(ctx, args)
}

func (h *LocalHandle) handle() {}

// RemoteHandle forwards calls to a tool server
type RemoteHandle struct {
	caller RemoteCaller
	name   string
}

// NewRemoteHandle returns Handle for the tool named by the server
func NewRemoteHandle(caller RemoteCaller, name string) *RemoteHandle {
	return &RemoteHandle{caller: caller, name: name}
}

func (h *RemoteHandle) Kind() HandleKind { return Remote }

// Name returns the tool name on the server,
// which may differ from the local registration name.
func (h *RemoteHandle) Name() string { return h.name }

func (h *RemoteHandle) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return h.caller.CallTool(ctx, h.name, args)
}

func (h *RemoteHandle) handle() {}
