package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/llmutils"
	"github.com/effective-security/reagent/pkg/metricskey"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/reagent", "rpc")

// HandlerFunc handles a request method.
// Returning *Error sends that error object, any other error is sent as internal error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// ServerOption configures Server
type ServerOption func(*Server)

// WithInvoker sets the invoker used by tools/call
func WithInvoker(inv *tools.Invoker) ServerOption {
	return func(s *Server) {
		s.invoker = inv
	}
}

// Server exposes a tools.Registry over the protocol.
// Requests on a connection are handled in the order they are received.
type Server struct {
	name     string
	version  string
	registry *tools.Registry
	invoker  *tools.Invoker

	lock     sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer returns Server for the registry
func NewServer(name, version string, registry *tools.Registry, opts ...ServerOption) *Server {
	s := &Server{
		name:     name,
		version:  version,
		registry: registry,
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.invoker == nil {
		s.invoker = tools.NewInvoker()
	}

	s.handlers[MethodServerInfo] = s.handleServerInfo
	s.handlers[MethodInitialize] = s.handleInitialize
	s.handlers[MethodPing] = s.handlePing
	s.handlers[MethodToolsList] = s.handleToolsList
	s.handlers[MethodToolsCall] = s.handleToolsCall
	return s
}

// Handle registers handler for a custom method, replacing an existing one
func (s *Server) Handle(method string, h HandlerFunc) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handlers[method] = h
}

// Info returns the server identity
func (s *Server) Info() ServerInfo {
	return ServerInfo{
		Name:            s.name,
		Version:         s.version,
		ProtocolVersion: ProtocolVersion,
	}
}

// ServeStdio serves a single session on the process stdin and stdout
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeStream(ctx, os.Stdin, os.Stdout)
}

// ServeStream serves a single session on the reader and writer
func (s *Server) ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	var c io.Closer
	if rc, ok := r.(io.Closer); ok {
		c = rc
	}
	return s.serve(ctx, newConn(r, w, c))
}

// ServeConn serves a single session on the connection and closes it when done
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	return s.serve(ctx, NewConn(rwc))
}

// Serve accepts connections until ctx is done or the listener fails,
// each connection is served in its own goroutine.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
	})
	defer stop()

	var g errgroup.Group
	for {
		c, err := l.Accept()
		if err != nil {
			_ = g.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "failed to accept connection")
		}
		logger.KV(xlog.DEBUG, "status", "accepted", "remote", c.RemoteAddr().String())
		g.Go(func() error {
			if err := s.ServeConn(ctx, c); err != nil {
				logger.KV(xlog.WARNING, "remote", c.RemoteAddr().String(), "err", err.Error())
			}
			return nil
		})
	}
}

func (s *Server) serve(ctx context.Context, conn *Conn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			if errors.Is(err, ErrMessageTooLarge) {
				_ = conn.WriteMessage(errorResponse(ID{}, NewError(CodeParseError, "parse error: %s", err.Error())))
			}
			return errors.Wrap(err, "failed to read message")
		}

		resp := s.Dispatch(ctx, msg)
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to write response")
		}
	}
}

// Dispatch handles a single frame and returns the response,
// or nil for a notification. A request without id is answered with a null id,
// only notifications/* methods go unanswered.
func (s *Server) Dispatch(ctx context.Context, msg []byte) *Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		metricskey.StatsRPCServerRequests.IncrCounter(1, "", strconv.Itoa(CodeParseError))
		logger.ContextKV(ctx, xlog.DEBUG, "reason", "parse", "msg", slices.StringUpto(string(msg), 128), "err", err.Error())
		return errorResponse(ID{}, NewError(CodeParseError, "parse error: %s", err.Error()))
	}
	if req.Method == "" {
		metricskey.StatsRPCServerRequests.IncrCounter(1, "", strconv.Itoa(CodeInvalidRequest))
		return errorResponse(req.ID, NewError(CodeInvalidRequest, "invalid request: method is required"))
	}

	started := time.Now()
	defer metricskey.PerfRPCServerRequest.MeasureSince(started, req.Method)

	s.lock.RLock()
	h := s.handlers[req.Method]
	s.lock.RUnlock()

	if !req.ID.IsSet() && strings.HasPrefix(req.Method, NotificationPrefix) {
		if h != nil {
			_, err := s.call(ctx, h, req.Params)
			if err != nil {
				logger.ContextKV(ctx, xlog.DEBUG, "method", req.Method, "err", err.Error())
			}
		}
		return nil
	}

	if h == nil {
		metricskey.StatsRPCServerRequests.IncrCounter(1, req.Method, strconv.Itoa(CodeMethodNotFound))
		return errorResponse(req.ID, NewError(CodeMethodNotFound, "method not found: %s", req.Method))
	}

	result, err := s.call(ctx, h, req.Params)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		metricskey.StatsRPCServerRequests.IncrCounter(1, req.Method, strconv.Itoa(rpcErr.Code))
		logger.ContextKV(ctx, xlog.DEBUG, "method", req.Method, "id", req.ID, "code", rpcErr.Code, "err", rpcErr.Message)
		return errorResponse(req.ID, rpcErr)
	}

	js, err := json.Marshal(result)
	if err != nil {
		metricskey.StatsRPCServerRequests.IncrCounter(1, req.Method, strconv.Itoa(CodeInternalError))
		return errorResponse(req.ID, NewError(CodeInternalError, "failed to marshal result: %s", err.Error()))
	}

	metricskey.StatsRPCServerRequests.IncrCounter(1, req.Method, "ok")
	return &Response{
		JSONRPC: Version,
		ID:      req.ID,
		Result:  js,
	}
}

func (s *Server) call(ctx context.Context, h HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "panic", "err", r, "stack", string(debug.Stack()))
			err = &Error{Code: CodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return h(ctx, params)
}

func errorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   err,
	}
}

func (s *Server) handleServerInfo(_ context.Context, _ json.RawMessage) (any, error) {
	return s.Info(), nil
}

func (s *Server) handleInitialize(_ context.Context, _ json.RawMessage) (any, error) {
	info := s.Info()
	info.Capabilities = map[string]any{
		"tools": map[string]any{},
	}
	return info, nil
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (any, error) {
	return PingResult{Status: "ok"}, nil
}

func (s *Server) handleToolsList(_ context.Context, _ json.RawMessage) (any, error) {
	list := s.registry.List()
	res := ToolsListResult{
		Tools: make([]ToolInfo, 0, len(list)),
	}
	for _, d := range list {
		res.Tools = append(res.Tools, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		})
	}
	return res, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p CallToolParams
	if len(params) == 0 {
		return nil, NewError(CodeInvalidParams, "invalid params: name is required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params: %s", err.Error())
	}
	if p.Name == "" {
		return nil, NewError(CodeInvalidParams, "invalid params: name is required")
	}

	desc, h, ok := s.registry.Lookup(p.Name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, p.Name)
		return nil, NewError(CodeToolNotFound, "tool not found: %s", p.Name)
	}

	res := s.invoker.Invoke(ctx, desc, h, p.Arguments)
	if !res.OK {
		switch res.ErrorKind {
		case tools.ErrorKindInvalidArgument:
			return nil, &Error{Code: CodeInvalidParams, Message: res.ErrorMessage}
		case tools.ErrorKindToolFailure:
			return nil, &Error{Code: CodeInternalError, Message: res.ErrorMessage}
		}
		return CallToolResult{
			Content: []Content{
				{Type: "text", Text: res.ErrorMessage},
			},
			IsError: true,
			Kind:    res.ErrorKind,
		}, nil
	}

	return CallToolResult{
		Content: []Content{
			{Type: "text", Text: llmutils.Stringify(res.Value)},
		},
	}, nil
}
