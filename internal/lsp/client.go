package lsp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/clangmux/internal/host"
)

// LaunchConfig describes how to start a language server process.
type LaunchConfig struct {
	// Command is the server executable.
	Command string

	// Arguments are passed on the command line.
	Arguments []string

	// WorkDir is the working directory. Defaults to the session root.
	WorkDir string

	// Env are additional environment variables.
	Env map[string]string

	// StartTimeout bounds the initialize handshake (default: 30s).
	StartTimeout time.Duration
}

// ClientOptions carries everything needed to build one session.
type ClientOptions struct {
	// ProjectID keys the session in the routing registry.
	ProjectID string

	// Launch describes the server process.
	Launch LaunchConfig

	// RootURI is the project root the session is scoped to. Empty for
	// the whole-workspace fallback session.
	RootURI string

	// Filter selects the documents this session serves.
	Filter DocumentFilter

	// InitializationOptions is the payload sent with the initialize
	// request, already merged for this session.
	InitializationOptions json.RawMessage

	// Logger receives session diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Output receives the server's stderr stream. The routing layer
	// owns the sink and closes it; clients only write.
	Output io.Writer
}

// Client is one language server session.
//
// Request failures are not surfaced to the user by implementations;
// the routing manager decides which failures are user-visible.
type Client interface {
	// Start launches the session and completes the initialize
	// handshake. ctx bounds startup only.
	Start(ctx context.Context) error

	// OpenDocument announces an open document to the server.
	OpenDocument(ctx context.Context, doc host.Document) error

	// CloseDocument announces a closed document to the server.
	CloseDocument(ctx context.Context, uri string) error

	// ExecuteCommand runs a workspace command on the server.
	ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error)

	// Exited delivers the process exit error once the session dies for
	// any reason other than Dispose.
	Exited() <-chan error

	// Dispose shuts the session down. Safe to call more than once.
	Dispose() error
}

// Factory builds clients. The manager never constructs sessions
// directly, so tests can install fakes.
type Factory interface {
	New(opts ClientOptions) (Client, error)
}
