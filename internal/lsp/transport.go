package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Conn speaks JSON-RPC 2.0 with Content-Length framing over a pair of
// byte streams, the base protocol language servers use on stdio.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles a server-initiated notification.
type NotificationHandler func(method string, params json.RawMessage)

// Request is an outgoing JSON-RPC message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an incoming JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// incoming parses server-initiated messages.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewConn creates a connection over the given streams. Reading does not
// begin until Start is called.
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		logger:   logger,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// Start begins reading messages in a background goroutine.
func (c *Conn) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Close stops the connection. In-flight Call invocations return
// ErrShutdown.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	// Waiters observe c.done; the channels themselves stay open so a
	// racing handleResponse never sends on a closed channel.
	c.mu.Lock()
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()
	return nil
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Call sends a request and waits for its response. A non-nil result is
// filled from the response payload.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification. No response is expected.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return c.send(&Request{JSONRPC: "2.0", Method: method, Params: params})
}

// OnNotification registers a handler for a server notification method.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.handlers[method] = handler
	c.mu.Unlock()
}

func (c *Conn) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		msg, err := c.readMessage()
		if err != nil {
			if c.closed.Load() || err == io.EOF || err == io.ErrClosedPipe {
				return
			}
			c.logger.Warn("discarding malformed message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// readMessage reads one framed message: headers, blank line, body.
func (c *Conn) readMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if length, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					contentLength = length
				}
			}
		}
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Conn) dispatch(data json.RawMessage) {
	var probe struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.logger.Warn("discarding unparsable message", "error", err)
		return
	}

	// A message with an id and a result or error is a response to one
	// of our requests; everything else is server-initiated.
	if probe.ID != nil && (probe.Result != nil || probe.Error != nil) {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		c.handleResponse(&resp)
		return
	}
	if probe.Method != "" {
		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.handleNotification(&msg)
	}
}

func (c *Conn) handleResponse(resp *Response) {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Conn) handleNotification(msg *incoming) {
	c.mu.Lock()
	handler := c.handlers[msg.Method]
	c.mu.Unlock()

	if handler != nil {
		// Handlers run off the read loop so a slow one cannot stall
		// response delivery.
		go handler(msg.Method, msg.Params)
	}
}
