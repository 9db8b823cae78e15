package rpc

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
)

// ErrClosed is the cause of ConnectionError after Close
var ErrClosed = errors.New("connection closed")

// ProtocolError is returned for a malformed frame,
// an unexpected message, or a response carrying an error object.
type ProtocolError struct {
	Method string
	// RPC is set when the server responded with an error object
	RPC *Error
	// Err is set for malformed frames
	Err error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.RPC != nil:
		return "protocol error: " + e.Method + ": " + e.RPC.Error()
	case e.Err != nil:
		return "protocol error: " + e.Method + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Method
}

func (e *ProtocolError) Unwrap() error {
	if e.RPC != nil {
		return e.RPC
	}
	return e.Err
}

// Code returns the JSON-RPC error code, or 0 if the server did not respond with an error object
func (e *ProtocolError) Code() int {
	if e.RPC != nil {
		return e.RPC.Code
	}
	return 0
}

// ConnectionError is returned when the stream is closed or broken,
// it is terminal for the Client.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection error: " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RemoteToolError is returned by Client.CallTool when the remote tool failed,
// the message is the one reported by the server.
type RemoteToolError struct {
	Tool string
	// Code is the JSON-RPC error code, or 0 for a result flagged with isError
	Code int
	// Kind is reported with an isError result
	Kind    tools.ErrorKind
	Message string
}

// ErrorKind returns the failure kind reported by the server,
// or ErrorKindNone when the server did not report one
func (e *RemoteToolError) ErrorKind() tools.ErrorKind {
	return e.Kind
}

func (e *RemoteToolError) Error() string {
	return e.Message
}

func (e *RemoteToolError) Unwrap() error {
	if e.Code == CodeInvalidParams {
		return tools.ErrInvalidArgument
	}
	return nil
}
