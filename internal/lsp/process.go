package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/clangmux/internal/host"
)

// ClientStatus indicates the state of a process-backed session.
type ClientStatus int

const (
	ClientStatusStopped ClientStatus = iota
	ClientStatusStarting
	ClientStatusReady
	ClientStatusDisposed
)

// String returns a human-readable status name.
func (s ClientStatus) String() string {
	switch s {
	case ClientStatusStopped:
		return "stopped"
	case ClientStatusStarting:
		return "starting"
	case ClientStatusReady:
		return "ready"
	case ClientStatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

const defaultStartTimeout = 30 * time.Second

// ProcessFactory builds process-backed sessions.
type ProcessFactory struct {
	// Logger is the default logger for sessions without their own.
	Logger *slog.Logger
}

// New validates the options and returns an unstarted session.
func (f *ProcessFactory) New(opts ClientOptions) (Client, error) {
	if opts.Launch.Command == "" {
		return nil, ErrNoCommand
	}
	if opts.Launch.StartTimeout == 0 {
		opts.Launch.StartTimeout = defaultStartTimeout
	}
	if opts.Logger == nil {
		if f.Logger != nil {
			opts.Logger = f.Logger
		} else {
			opts.Logger = slog.Default()
		}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	c := &ProcessClient{opts: opts, exitCh: make(chan error, 1)}
	c.status.Store(int32(ClientStatusStopped))
	return c, nil
}

var _ Factory = (*ProcessFactory)(nil)

// ProcessClient runs a language server as a child process and speaks
// the base protocol over its standard streams.
type ProcessClient struct {
	mu   sync.Mutex
	opts ClientOptions

	cmd   *exec.Cmd
	stdin io.WriteCloser
	conn  *Conn

	status     atomic.Int32
	disposed   atomic.Bool
	exitCh     chan error
	serverInfo *ServerInfo
}

// Start launches the server process and completes the initialize
// handshake. ctx bounds startup only; the session outlives it.
func (c *ProcessClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ClientStatus(c.status.Load()) {
	case ClientStatusStopped:
	case ClientStatusDisposed:
		return ErrShutdown
	default:
		return ErrAlreadyStarted
	}
	c.status.Store(int32(ClientStatusStarting))

	if err := c.spawnLocked(); err != nil {
		c.status.Store(int32(ClientStatusStopped))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Launch.StartTimeout)
	defer cancel()

	if err := c.initializeLocked(ctx); err != nil {
		c.teardownLocked()
		c.status.Store(int32(ClientStatusStopped))
		return fmt.Errorf("initialize: %w", err)
	}

	c.status.Store(int32(ClientStatusReady))
	return nil
}

// spawnLocked starts the server executable and wires its streams.
func (c *ProcessClient) spawnLocked() error {
	cmd := exec.Command(c.opts.Launch.Command, c.opts.Launch.Arguments...)

	cmd.Env = os.Environ()
	for k, v := range c.opts.Launch.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if c.opts.Launch.WorkDir != "" {
		cmd.Dir = c.opts.Launch.WorkDir
	} else if c.opts.RootURI != "" {
		if dir, err := host.URIToPath(c.opts.RootURI); err == nil {
			cmd.Dir = dir
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", c.opts.Launch.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.conn = NewConn(stdout, stdin, c.opts.Logger)
	c.conn.Start(context.Background())

	// The server logs on stderr; mirror it into the session's sink.
	go func() {
		_, _ = io.Copy(c.opts.Output, stderr)
	}()

	go c.monitor()
	return nil
}

// monitor reaps the process and reports unexpected exits.
func (c *ProcessClient) monitor() {
	err := c.cmd.Wait()
	if c.disposed.Load() {
		return
	}
	select {
	case c.exitCh <- err:
	default:
	}
}

// initializeLocked performs the initialize handshake.
func (c *ProcessClient) initializeLocked(ctx context.Context) error {
	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               c.opts.RootURI,
		Capabilities:          Capabilities(),
		InitializationOptions: c.opts.InitializationOptions,
	}
	if c.opts.RootURI != "" {
		name := ""
		if path, err := host.URIToPath(c.opts.RootURI); err == nil {
			name = path
		}
		params.WorkspaceFolders = []WorkspaceFolder{{URI: c.opts.RootURI, Name: name}}
	}

	var result InitializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.serverInfo = result.ServerInfo

	return c.conn.Notify(ctx, "initialized", InitializedParams{})
}

// teardownLocked closes streams and kills the process.
func (c *ProcessClient) teardownLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// OpenDocument reads the document from disk and announces it.
func (c *ProcessClient) OpenDocument(ctx context.Context, doc host.Document) error {
	if ClientStatus(c.status.Load()) != ClientStatusReady {
		return ErrNotStarted
	}

	content, err := os.ReadFile(doc.Path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	lang := DocumentLanguage(doc)
	if lang == "" {
		lang = LanguageCPP
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        doc.URI,
			LanguageID: lang,
			Version:    1,
			Text:       string(content),
		},
	}
	return c.conn.Notify(ctx, "textDocument/didOpen", params)
}

// CloseDocument announces a closed document.
func (c *ProcessClient) CloseDocument(ctx context.Context, uri string) error {
	if ClientStatus(c.status.Load()) != ClientStatusReady {
		return ErrNotStarted
	}
	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return c.conn.Notify(ctx, "textDocument/didClose", params)
}

// ExecuteCommand runs a workspace command on the server.
func (c *ProcessClient) ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	if ClientStatus(c.status.Load()) != ClientStatusReady {
		return nil, ErrNotStarted
	}
	params := ExecuteCommandParams{Command: command, Arguments: args}
	var result json.RawMessage
	if err := c.conn.Call(ctx, "workspace/executeCommand", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Exited delivers the exit error of a session that died on its own.
func (c *ProcessClient) Exited() <-chan error {
	return c.exitCh
}

// Dispose shuts the session down, asking the server to exit before
// killing it. Safe to call more than once.
func (c *ProcessClient) Dispose() error {
	if c.disposed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.Closed() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.conn.Call(ctx, "shutdown", nil, nil)
		_ = c.conn.Notify(ctx, "exit", nil)
		cancel()
	}
	c.teardownLocked()
	c.status.Store(int32(ClientStatusDisposed))
	return nil
}

// Status returns the session status.
func (c *ProcessClient) Status() ClientStatus {
	return ClientStatus(c.status.Load())
}

// Info returns the server identity reported during the handshake, or
// nil before the handshake completes.
func (c *ProcessClient) Info() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

var _ Client = (*ProcessClient)(nil)
