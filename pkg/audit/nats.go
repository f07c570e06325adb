package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tacoreio/tacore/pkg/core"
)

// NATSConfig configures the NATS-backed audit publisher.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Prefix is prepended to all subjects. Default: "tacore.audit".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// BufferSize bounds the in-memory event buffer. Events beyond it are
	// dropped rather than blocking the router loop. Default: 1024.
	BufferSize int
}

// NATSPublisher publishes audit events to NATS subjects
// <prefix>.<kind>. Publishing is asynchronous: Publish enqueues and a
// single pump goroutine writes to the connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger core.Logger

	ch      chan Event
	done    chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

// NewNATSPublisher connects to NATS and starts the publish pump.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("audit: NATS URL cannot be empty")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tacore.audit"
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}

	nc, err := nats.Connect(cfg.URL, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: connect failed: %w", err)
	}

	p := &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		logger: core.NewComponentLogger("audit"),
		ch:     make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

// Publish enqueues an event without blocking. Events are dropped when the
// buffer is full; the router loop must never stall on auditing.
func (p *NATSPublisher) Publish(ev Event) {
	select {
	case p.ch <- ev:
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n%1000 == 1 {
			p.logger.Warnf("audit buffer full, dropped %d events so far", n)
		}
	}
}

func (p *NATSPublisher) pump() {
	defer close(p.done)
	for ev := range p.ch {
		data, err := core.JSONEncode(ev)
		if err != nil {
			p.logger.Errorf("encode audit event: %v", err)
			continue
		}
		subject := p.prefix + "." + ev.Kind
		if err := p.nc.Publish(subject, data); err != nil {
			p.logger.Errorf("publish %s: %v", subject, err)
		}
	}
}

// Dropped returns the number of events discarded due to a full buffer.
func (p *NATSPublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close drains the buffer, flushes the connection, and closes it.
func (p *NATSPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.ch)
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			err = fmt.Errorf("audit: drain timed out")
		}
		if ferr := p.nc.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		p.nc.Close()
	})
	return err
}
