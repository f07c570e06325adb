package broker

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tacoreio/tacore/pkg/audit"
	"github.com/tacoreio/tacore/pkg/core"
	obsprom "github.com/tacoreio/tacore/pkg/observability/prometheus"
)

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evClosed
)

// event is the router loop's only input. I/O pumps produce events; the
// loop consumes them serially.
type event struct {
	kind   eventKind
	peer   *peer
	frames [][]byte
	err    error
}

// Broker is the load balancer matching client requests to available
// workers. All registry, pool, correlation, and queue state is owned by a
// single router goroutine; everything else communicates with it through
// events and published snapshots.
type Broker struct {
	cfg     Config
	logger  core.Logger
	metrics *obsprom.Metrics
	auditor audit.Publisher

	mu         sync.Mutex
	frontendLn net.Listener
	backendLn  net.Listener
	stopping   int32
	startedAt  time.Time

	events chan event
	stopCh chan struct{}
	doneCh chan struct{}

	snapshot atomic.Value // Snapshot

	// router-owned state; no other goroutine may touch these
	workers     map[string]*WorkerRecord
	workerPeers map[string]*peer
	clients     map[string]*peer
	pool        *availabilityPool
	inflight    map[string]*inflightEntry
	pending     []*pendingRequest

	totalRequests  uint64
	totalProcessed uint64
	totalRejected  uint64
	totalEvicted   uint64
}

type inflightEntry struct {
	requestID    string
	method       string
	clientID     string
	workerID     string
	dispatchedAt time.Time
}

type pendingRequest struct {
	clientID   string
	requestID  string
	method     string
	payload    []byte
	enqueuedAt time.Time
}

// Option customizes broker construction.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(l core.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithAuditPublisher sets the audit publisher. It must not block.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(b *Broker) { b.auditor = p }
}

// New creates a broker with the given configuration.
func New(cfg Config, opts ...Option) *Broker {
	cfg.clamp()

	b := &Broker{
		cfg:         cfg,
		logger:      core.NewComponentLogger("broker"),
		metrics:     obsprom.GetMetrics(),
		auditor:     audit.NopPublisher{},
		events:      make(chan event, 1024),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		workers:     make(map[string]*WorkerRecord),
		workerPeers: make(map[string]*peer),
		clients:     make(map[string]*peer),
		pool:        newAvailabilityPool(),
		inflight:    make(map[string]*inflightEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.snapshot.Store(Snapshot{Workers: []WorkerInfo{}, TakenAt: time.Now()})
	return b
}

// Start binds the frontend and backend listeners and starts the router
// loop. It does not block; use Stop for graceful shutdown.
func (b *Broker) Start() error {
	if b.cfg.FrontendAddr == "" || b.cfg.BackendAddr == "" {
		return fmt.Errorf("broker: frontend and backend addresses must be configured")
	}

	frontendLn, err := net.Listen("tcp", b.cfg.FrontendAddr)
	if err != nil {
		return fmt.Errorf("broker: bind frontend %s: %w", b.cfg.FrontendAddr, err)
	}
	backendLn, err := net.Listen("tcp", b.cfg.BackendAddr)
	if err != nil {
		_ = frontendLn.Close()
		return fmt.Errorf("broker: bind backend %s: %w", b.cfg.BackendAddr, err)
	}

	b.mu.Lock()
	b.frontendLn = frontendLn
	b.backendLn = backendLn
	b.startedAt = time.Now()
	b.mu.Unlock()

	go b.acceptLoop(frontendLn, sideClient)
	go b.acceptLoop(backendLn, sideWorker)
	go b.routerLoop()

	b.logger.Infof("listening frontend=%s backend=%s", frontendLn.Addr(), backendLn.Addr())
	return nil
}

// Stop closes the listeners and shuts the router down gracefully. Pending
// requests are answered with Overloaded error responses.
func (b *Broker) Stop() error {
	b.mu.Lock()
	started := !b.startedAt.IsZero()
	b.mu.Unlock()
	if !started {
		// Never started: there is no router loop to wait for.
		return errors.New("broker: not running")
	}
	if !atomic.CompareAndSwapInt32(&b.stopping, 0, 1) {
		return errors.New("broker: not running")
	}

	b.mu.Lock()
	frontendLn, backendLn := b.frontendLn, b.backendLn
	b.frontendLn, b.backendLn = nil, nil
	b.mu.Unlock()

	if frontendLn != nil {
		_ = frontendLn.Close()
	}
	if backendLn != nil {
		_ = backendLn.Close()
	}

	close(b.stopCh)
	select {
	case <-b.doneCh:
	case <-time.After(10 * time.Second):
		return errors.New("broker: router did not stop in time")
	}
	return nil
}

// FrontendAddr returns the actual frontend listening address (useful when
// the configured address is ":0"). Empty when not listening.
func (b *Broker) FrontendAddr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frontendLn == nil {
		return ""
	}
	return b.frontendLn.Addr().String()
}

// BackendAddr returns the actual backend listening address. Empty when not
// listening.
func (b *Broker) BackendAddr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backendLn == nil {
		return ""
	}
	return b.backendLn.Addr().String()
}

// StartedAt returns the broker start time.
func (b *Broker) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

// Snapshot returns the latest published state snapshot. Lock-free; safe
// from any goroutine.
func (b *Broker) Snapshot() Snapshot {
	return b.snapshot.Load().(Snapshot)
}

func (b *Broker) acceptLoop(ln net.Listener, side peerSide) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&b.stopping) == 1 || errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Errorf("%s accept: %v", side, err)
			continue
		}

		p := newPeer(core.GenerateIdentity(), side, conn)
		if !b.post(event{kind: evOpen, peer: p}) {
			p.close()
			return
		}
		go p.writeLoop(b.cfg.WriteTimeout)
		go p.readLoop(b.events, b.stopCh, b.cfg.MaxFrameSize)
	}
}

// post delivers an event to the router unless the broker is stopping.
func (b *Broker) post(ev event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.stopCh:
		return false
	}
}
