package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/invopop/jsonschema"
)

// Version is the JSON-RPC version
const Version = "2.0"

// ProtocolVersion is reported by initialize and server/info
const ProtocolVersion = "2024-11-05"

// Methods
const (
	MethodServerInfo = "server/info"
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"

	// NotificationPrefix starts the methods that are never answered
	NotificationPrefix = "notifications/"
)

// Error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeToolNotFound   = -32001
)

// ID is a request identifier, either a number or a string.
// The zero value is an absent id and is encoded as null.
type ID struct {
	num   int64
	str   string
	isStr bool
	set   bool
}

// NewIntID returns numeric ID
func NewIntID(n int64) ID {
	return ID{num: n, set: true}
}

// NewStringID returns string ID
func NewStringID(s string) ID {
	return ID{str: s, isStr: true, set: true}
}

// IsSet returns false for absent or null id
func (id ID) IsSet() bool {
	return id.set
}

func (id ID) String() string {
	switch {
	case !id.set:
		return "null"
	case id.isStr:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.set:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ID{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.WithStack(err)
		}
		*id = NewStringID(s)
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return errors.Newf("invalid id: %s", string(data))
		}
		*id = NewIntID(n)
	}
	return nil
}

// Request is a JSON-RPC request or notification
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response, exactly one of Result or Error is set
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError returns Error
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// ServerInfo is the result of server/info and initialize
type ServerInfo struct {
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

// ToolInfo describes a tool exposed by a server
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// ToolsListResult is the result of tools/list
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params of tools/call
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Content is an item of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result of tools/call
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
	// Kind is the failure kind of an isError result, like Timeout
	Kind tools.ErrorKind `json:"kind,omitempty"`
}

// Text returns all text content joined by newline
func (r *CallToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// PingResult is the result of ping
type PingResult struct {
	Status string `json:"status"`
}
