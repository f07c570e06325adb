package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tacoreio/tacore/pkg/protocol"
)

// fakeBackend stands in for the broker's worker-facing socket.
type fakeBackend struct {
	t     *testing.T
	ln    net.Listener
	conns chan net.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeBackend{t: t, ln: ln, conns: make(chan net.Conn, 4)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.conns <- conn
		}
	}()
	return f
}

func (f *fakeBackend) addr() string { return f.ln.Addr().String() }

func (f *fakeBackend) accept(timeout time.Duration) net.Conn {
	f.t.Helper()
	select {
	case conn := <-f.conns:
		f.t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(timeout):
		f.t.Fatalf("no worker connection within %s", timeout)
		return nil
	}
}

func readControl(t *testing.T, br *bufio.Reader, conn net.Conn, timeout time.Duration) (protocol.Command, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	frames, err := protocol.ReadMessage(br, 0)
	if err != nil {
		t.Fatalf("read control: %v", err)
	}
	cmd, body, err := protocol.ParseControl(frames)
	if err != nil {
		t.Fatalf("parse control: %v", err)
	}
	return cmd, body
}

func sendRequest(t *testing.T, conn net.Conn, req *protocol.Request) {
	t.Helper()
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := protocol.WriteMessage(conn, protocol.ControlFrames(protocol.CmdRequest, payload)); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func testRuntime(t *testing.T, brokerAddr string) *Runtime {
	t.Helper()
	cfg := DefaultConfig(brokerAddr)
	cfg.HeartbeatInterval = 60 * time.Millisecond
	cfg.ReconnectDelay = 30 * time.Millisecond
	return New(cfg)
}

func TestRuntimeRegistersAndReplies(t *testing.T) {
	t.Parallel()

	f := newFakeBackend(t)
	rt := testRuntime(t, f.addr())
	rt.Register("get.market_data", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"symbol": params["symbol"]}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = rt.Run(ctx) }()

	conn := f.accept(time.Second)
	br := bufio.NewReader(conn)
	cmd, _ := readControl(t, br, conn, time.Second)
	if cmd != protocol.CmdReady {
		t.Fatalf("expected READY first, got %v", cmd)
	}

	req := protocol.NewRequest("get.market_data", map[string]interface{}{"symbol": "BTCUSDT"})
	sendRequest(t, conn, req)

	cmd, body := readControl(t, br, conn, time.Second)
	for cmd == protocol.CmdHeartbeat {
		cmd, body = readControl(t, br, conn, time.Second)
	}
	if cmd != protocol.CmdReply {
		t.Fatalf("expected REPLY, got %v", cmd)
	}
	resp, err := protocol.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !resp.IsSuccess() || resp.RequestID != req.RequestID {
		t.Fatalf("unexpected reply: %+v", resp)
	}
	if resp.Data["symbol"] != "BTCUSDT" {
		t.Fatalf("params did not reach handler: %+v", resp.Data)
	}
	if resp.ResponseTime < 0 {
		t.Fatalf("response time not stamped")
	}
	if rt.Processed() != 1 {
		t.Fatalf("processed = %d, want 1", rt.Processed())
	}
}

func TestRuntimeHeartbeatsWhileIdle(t *testing.T) {
	t.Parallel()

	f := newFakeBackend(t)
	rt := testRuntime(t, f.addr())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = rt.Run(ctx) }()

	conn := f.accept(time.Second)
	br := bufio.NewReader(conn)
	cmd, _ := readControl(t, br, conn, time.Second)
	if cmd != protocol.CmdReady {
		t.Fatalf("expected READY first, got %v", cmd)
	}

	for i := 0; i < 2; i++ {
		cmd, _ = readControl(t, br, conn, time.Second)
		if cmd != protocol.CmdHeartbeat {
			t.Fatalf("expected HEARTBEAT while idle, got %v", cmd)
		}
	}
}

func TestRuntimeSurvivesSplitMessageDelivery(t *testing.T) {
	t.Parallel()

	f := newFakeBackend(t)
	rt := testRuntime(t, f.addr())
	rt.Register("analyze.symbol", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"trend": "up"}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = rt.Run(ctx) }()

	conn := f.accept(time.Second)
	br := bufio.NewReader(conn)
	if cmd, _ := readControl(t, br, conn, time.Second); cmd != protocol.CmdReady {
		t.Fatalf("expected READY first")
	}

	// Deliver one request split across a gap longer than the heartbeat
	// interval. The half-read message must not be mistaken for idleness;
	// the worker still has to parse and answer it.
	req := protocol.NewRequest("analyze.symbol", nil)
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var raw bytes.Buffer
	if err := protocol.WriteMessage(&raw, protocol.ControlFrames(protocol.CmdRequest, payload)); err != nil {
		t.Fatalf("frame request: %v", err)
	}
	wire := raw.Bytes()
	half := len(wire) / 2

	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(wire[:half]); err != nil {
		t.Fatalf("write first half: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(wire[half:]); err != nil {
		t.Fatalf("write second half: %v", err)
	}

	cmd, body := readControl(t, br, conn, 2*time.Second)
	for cmd == protocol.CmdHeartbeat {
		cmd, body = readControl(t, br, conn, 2*time.Second)
	}
	if cmd != protocol.CmdReply {
		t.Fatalf("expected REPLY, got %v", cmd)
	}
	resp, err := protocol.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !resp.IsSuccess() || resp.RequestID != req.RequestID {
		t.Fatalf("split-delivered request not answered: %+v", resp)
	}
}

func TestRuntimeReconnectsAfterConnectionLoss(t *testing.T) {
	t.Parallel()

	f := newFakeBackend(t)
	rt := testRuntime(t, f.addr())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = rt.Run(ctx) }()

	conn := f.accept(time.Second)
	br := bufio.NewReader(conn)
	if cmd, _ := readControl(t, br, conn, time.Second); cmd != protocol.CmdReady {
		t.Fatalf("expected READY on first connection")
	}
	_ = conn.Close()

	// A fresh connection re-advertises readiness.
	conn2 := f.accept(2 * time.Second)
	br2 := bufio.NewReader(conn2)
	if cmd, _ := readControl(t, br2, conn2, time.Second); cmd != protocol.CmdReady {
		t.Fatalf("expected READY after reconnect")
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	t.Parallel()

	rt := New(DefaultConfig("127.0.0.1:1"))
	called := false
	rt.Register("health.check", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		called = true
		return nil, nil
	})

	resp := rt.Handle(context.Background(), protocol.NewRequest("no.such", nil))
	if resp.IsSuccess() {
		t.Fatalf("expected error response")
	}
	if resp.Error != "Unknown method: no.such" {
		t.Fatalf("unexpected error string: %q", resp.Error)
	}
	if called {
		t.Fatalf("registered handler must not run for unknown method")
	}
}

func TestHandleIsolatesPanics(t *testing.T) {
	t.Parallel()

	rt := New(DefaultConfig("127.0.0.1:1"))
	rt.Register("execute.order", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		panic("ledger out of sync")
	})

	req := protocol.NewRequest("execute.order", nil)
	resp := rt.Handle(context.Background(), req)
	if resp.IsSuccess() {
		t.Fatalf("expected error response from panic")
	}
	if !strings.Contains(resp.Error, "ledger out of sync") {
		t.Fatalf("panic value lost: %q", resp.Error)
	}
	if resp.RequestID != req.RequestID {
		t.Fatalf("response id mismatch")
	}
}

func TestHandleConvertsHandlerError(t *testing.T) {
	t.Parallel()

	rt := New(DefaultConfig("127.0.0.1:1"))
	rt.Register("execute.order", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("insufficient margin")
	})

	resp := rt.Handle(context.Background(), protocol.NewRequest("execute.order", nil))
	if resp.IsSuccess() {
		t.Fatalf("expected error response")
	}
	if resp.Error != "insufficient margin" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
}

func TestRegisterFailFast(t *testing.T) {
	t.Parallel()

	rt := New(DefaultConfig("127.0.0.1:1"))
	assertPanics(t, func() { rt.Register("", func(context.Context, map[string]interface{}) (map[string]interface{}, error) { return nil, nil }) })
	assertPanics(t, func() { rt.Register("health.check", nil) })
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}
