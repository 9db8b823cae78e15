package rpc

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/metricskey"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// DefaultRequestTimeout is the default timeout of a single request
const DefaultRequestTimeout = 60 * time.Second

// ensure Client can back remote tool handles
var _ tools.RemoteCaller = (*Client)(nil)

// ClientOption configures Client
type ClientOption func(*Client)

// WithRequestTimeout sets the timeout of a single request, 0 disables it
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithName sets the name used in logs
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

type envelope struct {
	resp     *Response
	frameErr error
}

// Client sends requests to a Server.
// Concurrent callers are multiplexed by request id on a single connection.
type Client struct {
	conn       *Conn
	name       string
	instanceID string
	timeout    time.Duration

	nextID atomic.Int64

	lock    sync.Mutex
	pending map[ID]chan envelope
	err     error
	done    chan struct{}
}

// NewClient returns Client over the stream, and starts reading responses
func NewClient(rwc io.ReadWriteCloser, opts ...ClientOption) *Client {
	return newClient(NewConn(rwc), opts...)
}

func newClient(conn *Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:       conn,
		instanceID: uuid.NewString(),
		timeout:    DefaultRequestTimeout,
		pending:    make(map[ID]chan envelope),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = c.instanceID
	}
	go c.readLoop()
	return c
}

// Name returns the client name
func (c *Client) Name() string {
	return c.name
}

// InstanceID returns unique id of this client
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Done is closed when the connection is no longer usable
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal ConnectionError, or nil while the connection is usable
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Close closes the connection, pending and future calls fail with ConnectionError
func (c *Client) Close() error {
	c.fail(&ConnectionError{Op: "close", Err: ErrClosed})
	return nil
}

// Call sends the request and waits for the matching response
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	started := time.Now()
	defer metricskey.PerfRPCClientCall.MeasureSince(started, method)

	res, err := c.call(ctx, method, params)
	if err != nil {
		metricskey.StatsRPCClientErrors.IncrCounter(1, method, string(ErrorKind(err)))
		logger.ContextKV(ctx, xlog.DEBUG,
			"client", c.name,
			"method", method,
			"err", err.Error(),
		)
		return nil, err
	}
	return res, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var raw json.RawMessage
	if params != nil {
		js, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal params for %s", method)
		}
		raw = js
	}

	id := NewIntID(c.nextID.Add(1))
	ch := make(chan envelope, 1)

	c.lock.Lock()
	if c.err != nil {
		err := c.err
		c.lock.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()
	}()

	req := &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  raw,
	}
	if err := c.conn.WriteMessage(req); err != nil {
		c.fail(&ConnectionError{Op: "write", Err: err})
		return nil, c.Err()
	}

	select {
	case env := <-ch:
		if env.frameErr != nil {
			return nil, &ProtocolError{Method: method, Err: env.frameErr}
		}
		if env.resp.Error != nil {
			return nil, &ProtocolError{Method: method, RPC: env.resp.Error}
		}
		return env.resp.Result, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, errors.WithMessagef(ctx.Err(), "rpc %s", method)
	}
}

func (c *Client) readLoop() {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(&ConnectionError{Op: "read", Err: err})
			return
		}

		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			logger.KV(xlog.WARNING,
				"client", c.name,
				"reason", "malformed",
				"msg", slices.StringUpto(string(msg), 128),
				"err", err.Error(),
			)
			c.deliverAll(envelope{frameErr: errors.Wrap(err, "malformed frame")})
			continue
		}

		if !resp.ID.IsSet() {
			if resp.Error != nil {
				// the server could not correlate the request
				c.deliverAll(envelope{resp: &resp})
			}
			continue
		}

		c.lock.Lock()
		ch, ok := c.pending[resp.ID]
		c.lock.Unlock()
		if !ok {
			logger.KV(xlog.DEBUG, "client", c.name, "reason", "unexpected_id", "id", resp.ID)
			continue
		}
		select {
		case ch <- envelope{resp: &resp}:
		default:
		}
	}
}

// deliverAll fails every in-flight call with the same envelope
func (c *Client) deliverAll(env envelope) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, ch := range c.pending {
		select {
		case ch <- env:
		default:
		}
	}
}

func (c *Client) fail(err error) {
	c.lock.Lock()
	if c.err != nil {
		c.lock.Unlock()
		return
	}
	c.err = err
	c.lock.Unlock()

	close(c.done)
	_ = c.conn.Close()

	logger.KV(xlog.DEBUG, "client", c.name, "status", "closed", "reason", err.Error())
}

func callResult[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	res := new(T)
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, &ProtocolError{Method: method, Err: errors.Wrap(err, "unexpected result")}
	}
	return res, nil
}

// Info returns server identity
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	return callResult[ServerInfo](ctx, c, MethodServerInfo, nil)
}

// Initialize returns server identity and capabilities
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	return callResult[ServerInfo](ctx, c, MethodInitialize, map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo": map[string]any{
			"name": c.name,
		},
	})
}

// Ping checks the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	res, err := callResult[PingResult](ctx, c, MethodPing, nil)
	if err != nil {
		return err
	}
	if res.Status != "ok" {
		return &ProtocolError{Method: MethodPing, Err: errors.Newf("unexpected status: %q", res.Status)}
	}
	return nil
}

// ListTools returns the tools exposed by the server
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := callResult[ToolsListResult](ctx, c, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// InvokeTool calls the tool on the server
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	return callResult[CallToolResult](ctx, c, MethodToolsCall, CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// CallTool calls the tool on the server and returns its text result.
// A failure reported by the tool is returned as RemoteToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	res, err := c.InvokeTool(ctx, name, args)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) && perr.RPC != nil {
			switch perr.RPC.Code {
			case CodeInternalError, CodeInvalidParams, CodeToolNotFound:
				return nil, &RemoteToolError{Tool: name, Code: perr.RPC.Code, Message: perr.RPC.Message}
			}
		}
		return nil, err
	}
	if res.IsError {
		return nil, &RemoteToolError{Tool: name, Kind: res.Kind, Message: res.Text()}
	}
	return res.Text(), nil
}

// ErrorKind classifies an error returned by Client
func ErrorKind(err error) tools.ErrorKind {
	var cerr *ConnectionError
	var perr *ProtocolError
	var rerr *RemoteToolError
	switch {
	case err == nil:
		return tools.ErrorKindNone
	case errors.As(err, &cerr):
		return tools.ErrorKindConnectionError
	case errors.As(err, &rerr):
		if rerr.Kind != tools.ErrorKindNone {
			return rerr.Kind
		}
		return tools.ErrorKindToolFailure
	case errors.As(err, &perr):
		return tools.ErrorKindProtocolError
	case errors.Is(err, context.DeadlineExceeded):
		return tools.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return tools.ErrorKindCancelled
	}
	return tools.ErrorKindToolFailure
}
