// Package client implements the request-side reliability wrapper used by
// every caller of the broker: bounded retry with reconnect on timeout.
// Callers get at-least-once semantics; duplicate side effects are the
// callee's concern.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tacoreio/tacore/pkg/core"
	"github.com/tacoreio/tacore/pkg/protocol"
)

// Config configures a broker client.
type Config struct {
	// FrontendAddr is the broker's client-facing address.
	FrontendAddr string

	// Timeout bounds one attempt's wait for a response.
	Timeout time.Duration

	// Retries is the total number of attempts per call. The transport
	// cannot distinguish a slow broker from a dead one, so each timed-out
	// attempt discards the connection and resends on a fresh one.
	Retries int

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// MaxFrameSize bounds a single wire frame.
	MaxFrameSize int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(frontendAddr string) Config {
	return Config{
		FrontendAddr: frontendAddr,
		Timeout:      2500 * time.Millisecond,
		Retries:      3,
		DialTimeout:  2 * time.Second,
		MaxFrameSize: 1 << 20,
	}
}

func (c *Config) clamp() {
	if c.Timeout <= 0 {
		c.Timeout = 2500 * time.Millisecond
	}
	if c.Retries < 1 {
		c.Retries = 1
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
}

// Client calls business methods through the broker. Safe for sequential
// use; guard with your own synchronization to share across goroutines.
type Client struct {
	cfg    Config
	logger core.Logger

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

// New creates a client.
func New(cfg Config) *Client {
	cfg.clamp()
	return &Client{
		cfg:    cfg,
		logger: core.NewComponentLogger("client"),
	}
}

// Call sends a method invocation and waits for its response, retrying per
// the configured policy. The returned Response is either the broker's
// answer (success or error) or a synthetic RequestTimeout after retry
// exhaustion; transport faults never reach the caller raw.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (*protocol.Response, error) {
	return c.Do(ctx, protocol.NewRequest(method, params))
}

// Do sends a prepared Request. Every retry reuses the same request ID so
// duplicate detection stays possible downstream.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req.RequestID, payload)
		if err == nil {
			return resp, nil
		}

		// Slow or dead, we cannot tell: discard the connection and resend
		// on a fresh one.
		c.disconnect()
		if attempt < c.cfg.Retries {
			c.logger.Warnf("attempt %d/%d for %s failed: %v, reconnecting", attempt, c.cfg.Retries, req.Method, err)
		}
	}

	c.logger.Errorf("request %s (%s) abandoned after %d attempts", req.RequestID, req.Method, c.cfg.Retries)
	return protocol.NewErrorResponse(req.RequestID, protocol.ErrorRequestTimeout), nil
}

// attempt performs one send-and-wait cycle on the current connection.
func (c *Client) attempt(ctx context.Context, requestID string, payload []byte) (*protocol.Response, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = c.conn.SetWriteDeadline(deadline)
	if err := protocol.WriteMessage(c.conn, [][]byte{payload}); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	for {
		_ = c.conn.SetReadDeadline(deadline)
		frames, err := protocol.ReadMessage(c.br, c.cfg.MaxFrameSize)
		if err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		if len(frames) != 1 {
			return nil, fmt.Errorf("recv: unexpected frame count %d", len(frames))
		}
		resp, err := protocol.DecodeResponse(frames[0])
		if err != nil {
			return nil, err
		}
		if resp.RequestID != requestID {
			// A stale reply from an earlier abandoned attempt; keep waiting
			// for ours.
			c.logger.Debugf("discarding stale reply %s", resp.RequestID)
			continue
		}
		return resp, nil
	}
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.FrontendAddr)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	return nil
}

func (c *Client) disconnect() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.br = nil
	}
}

// Close releases the client's connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
	return nil
}
