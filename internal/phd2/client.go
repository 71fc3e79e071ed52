// Package phd2 implements the line-delimited JSON-RPC dialect spoken by the
// PHD2 guiding process. A Client runs two tasks per connection: a reader
// that classifies inbound lines into RPC responses (correlated by id) and
// asynchronous events, and callers that serialize requests through a single
// writer. Asynchronous events mutate a cached guider state snapshot.
package phd2

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

const (
	// DefaultAddr is the stock PHD2 event server endpoint.
	DefaultAddr = "127.0.0.1:4400"

	// DefaultCallTimeout bounds each RPC round trip. The upstream protocol
	// has no deadline of its own; a wedged guider would otherwise hang the
	// calling manager forever.
	DefaultCallTimeout = 10 * time.Second
)

// rpcRequest is one outbound JSON-RPC call.
type rpcRequest struct {
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
}

// rpcResponse is one inbound JSON-RPC reply.
type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client speaks to one PHD2 process.
type Client struct {
	logger      *zap.Logger
	callTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	pending map[int64]chan *rpcResponse
	nextID  int64
	closed  chan struct{}

	stateMu sync.RWMutex
	state   device.GuiderState
}

// NewClient creates a disconnected PHD2 client.
func NewClient(callTimeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Client{
		logger:      logger.With(zap.String("component", "phd2_client")),
		callTimeout: callTimeout,
	}
}

// Connect dials the guider's TCP endpoint and starts the reader task.
func (c *Client) Connect(ctx context.Context, params device.ConnectParams) error {
	addr := DefaultAddr
	if params.Host != "" {
		port := params.Port
		if port == 0 {
			port = 4400
		}
		addr = fmt.Sprintf("%s:%d", params.Host, port)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "connecting to guider at %s", addr)
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[int64]chan *rpcResponse)
	c.closed = make(chan struct{})
	c.mu.Unlock()

	c.stateMu.Lock()
	c.state = device.GuiderState{Connected: true}
	c.stateMu.Unlock()

	go c.readLoop(conn)
	c.logger.Info("guider connected", zap.String("addr", addr))
	return nil
}

// Disconnect tears down the connection. In-flight calls fail with
// NetworkError.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if closed != nil {
		<-closed
	}
	c.stateMu.Lock()
	c.state.Connected = false
	c.stateMu.Unlock()
	return err
}

// State returns a copy of the cached guider state.
func (c *Client) State() device.GuiderState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// scanLines splits on CR or LF, retaining partial buffers across reads.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer func() {
		c.failPending(errs.New(errs.NetworkError, "guider connection closed"))
		c.mu.Lock()
		if c.closed != nil {
			close(c.closed)
			c.closed = nil
		}
		c.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	scanner.Split(scanLines)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		c.dispatch(line)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("guider read loop ended", zap.Error(err))
	}
}

// dispatch classifies one line as an RPC response or an asynchronous event.
func (c *Client) dispatch(line []byte) {
	var probe struct {
		Event string `json:"Event"`
		ID    *int64 `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		c.logger.Warn("unparseable guider message", zap.ByteString("line", line), zap.Error(err))
		return
	}

	if probe.ID != nil && probe.Event == "" {
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("unparseable guider response", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
		return
	}

	c.handleEvent(probe.Event, line)
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *rpcResponse)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- &rpcResponse{ID: id, Error: &rpcError{Code: -1, Message: err.Error()}}
	}
}

// Call issues one RPC and waits for its response, bounded by the per-call
// timeout and ctx.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errs.New(errs.NotConnected, "guider is not connected")
	}
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch

	req := rpcRequest{Method: method, Params: params, ID: id, JSONRPC: "2.0"}
	payload, err := json.Marshal(req)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return errs.Wrap(errs.ProtocolError, err, "encoding %s request", method)
	}
	payload = append(payload, '\r', '\n')
	_, err = conn.Write(payload)
	c.mu.Unlock()
	if err != nil {
		c.dropPending(id)
		return errs.Wrap(errs.NetworkError, err, "sending %s request", method)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return errs.Wrap(errs.Aborted, ctx.Err(), "%s cancelled", method)
	case <-timer.C:
		c.dropPending(id)
		return errs.New(errs.Timeout, "guider did not answer %s within %s", method, c.callTimeout)
	case resp := <-ch:
		if resp.Error != nil {
			return &errs.Error{
				Kind:       errs.BackendError,
				Message:    fmt.Sprintf("guider rejected %s", method),
				Diagnostic: fmt.Sprintf("code %d: %s", resp.Error.Code, resp.Error.Message),
			}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errs.Wrap(errs.ProtocolError, err, "decoding %s result", method)
			}
		}
		return nil
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
