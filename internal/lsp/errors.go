package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by sessions and the routing manager.
var (
	// ErrNotStarted indicates the client has not been started.
	ErrNotStarted = errors.New("client not started")

	// ErrAlreadyStarted indicates the client is already running.
	ErrAlreadyStarted = errors.New("client already started")

	// ErrShutdown indicates the connection has been shut down.
	ErrShutdown = errors.New("connection shut down")

	// ErrNoCommand indicates no server executable is configured.
	ErrNoCommand = errors.New("no server command configured")

	// ErrClientFailed indicates the client exceeded its restart cap and
	// will not recover without a manual restart.
	ErrClientFailed = errors.New("client failed permanently")

	// ErrManagerDisposed indicates the routing manager has been disposed.
	ErrManagerDisposed = errors.New("routing manager disposed")

	// ErrUnknownProject indicates the project id is not known to the
	// active resolution strategy.
	ErrUnknownProject = errors.New("project not known to the active strategy")

	// ErrNoSession indicates no live session serves the document.
	ErrNoSession = errors.New("no session serves the document")
)

// RPCError is a JSON-RPC error returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC and protocol error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeRequestFailed        = -32803
)

// ClientError ties a session failure to the project it serves.
type ClientError struct {
	ProjectID string
	Err       error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return fmt.Sprintf("client %s: %v", e.ProjectID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClientError) Unwrap() error {
	return e.Err
}
