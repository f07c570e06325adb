// Package worker implements the long-lived runtime that executes business
// requests dispatched by the broker. The runtime advertises readiness,
// heartbeats while idle, and processes exactly one request at a time by
// delegating to a pluggable method-handler table.
package worker

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

// HandlerFunc executes one business method. The returned mapping becomes
// Response.Data; a returned error becomes an error Response. Handlers must
// finish well inside the broker's heartbeat timeout or the worker will be
// evicted mid-request.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Config configures a worker runtime.
type Config struct {
	// BrokerAddr is the broker's backend address.
	BrokerAddr string

	// HeartbeatInterval is how often the worker signals liveness while
	// idle. Must be shorter than the broker's heartbeat timeout.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the pause before re-dialing a lost broker
	// connection.
	ReconnectDelay time.Duration

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// MaxFrameSize bounds a single wire frame.
	MaxFrameSize int

	// WriteTimeout bounds a single outbound write and the completion of
	// an inbound message once its first byte has arrived.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(brokerAddr string) Config {
	return Config{
		BrokerAddr:        brokerAddr,
		HeartbeatInterval: time.Second,
		ReconnectDelay:    time.Second,
		DialTimeout:       5 * time.Second,
		MaxFrameSize:      1 << 20,
		WriteTimeout:      5 * time.Second,
	}
}

func (c *Config) clamp() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Runtime is a single worker process connection. Its loop is strictly
// sequential: it never accepts a second request while one is outstanding,
// which guarantees the broker's one-active-request-per-worker invariant
// from this side too.
type Runtime struct {
	cfg    Config
	logger core.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	processed uint64
}

// New creates a worker runtime.
func New(cfg Config) *Runtime {
	cfg.clamp()
	return &Runtime{
		cfg:      cfg,
		logger:   core.NewComponentLogger("worker"),
		handlers: make(map[string]HandlerFunc),
	}
}

// SetLogger replaces the runtime logger.
func (r *Runtime) SetLogger(l core.Logger) {
	if l == nil {
		panic("worker logger cannot be nil")
	}
	r.logger = l
}

// Register installs a handler for a dotted method name such as
// "scan.market" (fail-fast on nil).
func (r *Runtime) Register(method string, fn HandlerFunc) {
	if method == "" {
		panic("worker method name cannot be empty")
	}
	if fn == nil {
		panic("worker handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = fn
}

// Methods returns the registered method names.
func (r *Runtime) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Run connects to the broker and serves dispatched requests until ctx is
// cancelled, reconnecting on connection loss.
func (r *Runtime) Run(ctx context.Context) error {
	if r.cfg.BrokerAddr == "" {
		return fmt.Errorf("worker: broker address must be configured")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			r.logger.Warnf("broker connection lost: %v, reconnecting in %s", err, r.cfg.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.ReconnectDelay):
		}
	}
}

// serveOnce runs one connection lifetime: dial, READY, then the
// pull-dispatch-reply cycle with idle heartbeats.
func (r *Runtime) serveOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.BrokerAddr)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	// Unblock the read below when the caller cancels.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := r.writeControl(conn, protocol.CmdReady, nil); err != nil {
		return fmt.Errorf("send READY: %w", err)
	}
	r.logger.Infof("registered with broker %s", r.cfg.BrokerAddr)

	br := bufio.NewReader(conn)
	for {
		// Wait for the next message under the heartbeat deadline without
		// consuming anything, so a timeout here means genuinely idle and
		// never a half-read message.
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.HeartbeatInterval))
		if _, err := br.Peek(1); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && br.Buffered() == 0 {
				// Idle with no work: signal liveness.
				if err := r.writeControl(conn, protocol.CmdHeartbeat, nil); err != nil {
					return fmt.Errorf("send HEARTBEAT: %w", err)
				}
				continue
			}
			return err
		}

		// A message has begun; give the remainder a full I/O timeout. A
		// stall mid-message is a broken connection, not idleness.
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.WriteTimeout))
		frames, err := protocol.ReadMessage(br, r.cfg.MaxFrameSize)
		if err != nil {
			return err
		}

		cmd, body, err := protocol.ParseControl(frames)
		if err != nil {
			r.logger.Warnf("dropping malformed frame from broker: %v", err)
			continue
		}
		if cmd != protocol.CmdRequest {
			r.logger.Warnf("unexpected %s from broker ignored", cmd)
			continue
		}

		resp := r.dispatch(ctx, body)
		payload, err := protocol.EncodeResponse(resp)
		if err != nil {
			r.logger.Errorf("encode response: %v", err)
			continue
		}
		if err := r.writeControl(conn, protocol.CmdReply, payload); err != nil {
			return fmt.Errorf("send REPLY: %w", err)
		}
		r.mu.Lock()
		r.processed++
		r.mu.Unlock()
	}
}

// dispatch decodes and executes one request. Decoding failures still
// produce a Response when a request ID is recoverable; the worker never
// crashes on bad input.
func (r *Runtime) dispatch(ctx context.Context, body []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		r.logger.Warnf("malformed request from broker: %v", err)
		return protocol.NewErrorResponse("", "malformed request")
	}
	return r.Handle(ctx, req)
}

// Handle executes a request against the handler table. Handler panics and
// errors are converted into error Responses so a handler bug can never
// kill the worker process. Unknown methods never invoke any handler.
func (r *Runtime) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("handler panic for %s (isolated): %v", req.Method, rec)
			resp = protocol.NewErrorResponse(req.RequestID, fmt.Sprintf("handler panic: %v", rec))
		}
		resp.ResponseTime = time.Since(start).Seconds()
	}()

	r.mu.RLock()
	fn, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return protocol.NewErrorResponse(req.RequestID, "Unknown method: "+req.Method)
	}

	ctx = core.WithRequestID(ctx, req.RequestID)
	data, err := fn(ctx, req.Params)
	if err != nil {
		return protocol.NewErrorResponse(req.RequestID, err.Error())
	}
	return protocol.NewSuccessResponse(req.RequestID, data)
}

// Processed returns the number of requests this runtime has replied to.
func (r *Runtime) Processed() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processed
}

func (r *Runtime) writeControl(conn net.Conn, cmd protocol.Command, body []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	return protocol.WriteMessage(conn, protocol.ControlFrames(cmd, body))
}
