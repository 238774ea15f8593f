package host

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ConsoleUI is a standalone UI that reports through a structured logger
// and writes output sinks to a single writer. The CLI and tests use it in
// place of an embedding editor.
type ConsoleUI struct {
	mu     sync.RWMutex
	logger *slog.Logger
	out    io.Writer
	status string
}

// ConsoleUIOption configures a ConsoleUI.
type ConsoleUIOption func(*ConsoleUI)

// WithUILogger sets the logger for user-facing messages.
func WithUILogger(logger *slog.Logger) ConsoleUIOption {
	return func(u *ConsoleUI) {
		u.logger = logger
	}
}

// WithUIOutput sets the writer backing output sinks.
func WithUIOutput(w io.Writer) ConsoleUIOption {
	return func(u *ConsoleUI) {
		u.out = w
	}
}

// NewConsoleUI creates a console UI.
func NewConsoleUI(opts ...ConsoleUIOption) *ConsoleUI {
	u := &ConsoleUI{
		logger: slog.Default(),
		out:    io.Discard,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Info shows an informational message.
func (u *ConsoleUI) Info(msg string) {
	u.logger.Info(msg)
}

// Warn shows a warning message.
func (u *ConsoleUI) Warn(msg string) {
	u.logger.Warn(msg)
}

// Error shows an error message.
func (u *ConsoleUI) Error(msg string) {
	u.logger.Error(msg)
}

// SetStatus updates the persistent status text.
func (u *ConsoleUI) SetStatus(text string) {
	u.mu.Lock()
	u.status = text
	u.mu.Unlock()
}

// Status returns the current status text.
func (u *ConsoleUI) Status() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// OutputSink returns a sink that prefixes each write with the sink name.
func (u *ConsoleUI) OutputSink(name string) io.WriteCloser {
	return &prefixSink{name: name, out: u.out}
}

// prefixSink labels sink writes with the sink name.
type prefixSink struct {
	mu     sync.Mutex
	name   string
	out    io.Writer
	closed bool
}

func (s *prefixSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if _, err := fmt.Fprintf(s.out, "[%s] %s", s.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *prefixSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure ConsoleUI implements UI.
var _ UI = (*ConsoleUI)(nil)
