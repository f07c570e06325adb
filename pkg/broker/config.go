package broker

import (
	"time"
)

// Config configures the broker. All knobs are deployment-driven; nothing
// here is a protocol constant.
type Config struct {
	// FrontendAddr is the client-facing bind address.
	FrontendAddr string

	// BackendAddr is the worker-facing bind address.
	BackendAddr string

	// HeartbeatInterval is the eviction-sweep period. Workers are expected
	// to signal at least this often when idle.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long a worker may stay silent before it is
	// evicted. Handlers running longer than this are treated as dead.
	HeartbeatTimeout time.Duration

	// MaxPendingRequests bounds the queue of requests waiting for an idle
	// worker. Requests beyond it are rejected with Overloaded.
	MaxPendingRequests int

	// MaxFrameSize bounds a single wire frame.
	MaxFrameSize int

	// WriteTimeout bounds a single outbound write to a peer.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FrontendAddr:       ":5555",
		BackendAddr:        ":5556",
		HeartbeatInterval:  time.Second,
		HeartbeatTimeout:   3 * time.Second,
		MaxPendingRequests: 100,
		MaxFrameSize:       1 << 20,
		WriteTimeout:       5 * time.Second,
	}
}

func (c *Config) clamp() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.MaxPendingRequests < 1 {
		c.MaxPendingRequests = 100
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}
