package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/tacoreio/tacore/pkg/core"
)

// Pool runs a fixed number of runtimes against the same broker, each with
// its own backend connection and handler table. The broker sees pool
// members as independent workers.
type Pool struct {
	runtimes []*Runtime
	logger   core.Logger
}

// NewPool creates size runtimes configured identically, calling setup on
// each to register its handlers (fail-fast on nil setup). A size below 1
// is treated as 1.
func NewPool(cfg Config, size int, setup func(*Runtime)) *Pool {
	if setup == nil {
		panic("worker pool setup cannot be nil")
	}
	if size < 1 {
		size = 1
	}

	p := &Pool{logger: core.NewComponentLogger("worker")}
	for i := 0; i < size; i++ {
		rt := New(cfg)
		setup(rt)
		p.runtimes = append(p.runtimes, rt)
	}
	return p
}

// Size returns the number of runtimes in the pool.
func (p *Pool) Size() int {
	return len(p.runtimes)
}

// Methods returns the method names registered on the pool's runtimes.
func (p *Pool) Methods() []string {
	return p.runtimes[0].Methods()
}

// Processed returns the total number of requests replied to across the
// pool.
func (p *Pool) Processed() uint64 {
	var total uint64
	for _, rt := range p.runtimes {
		total += rt.Processed()
	}
	return total
}

// Run starts every runtime and blocks until all have stopped. Cancelling
// ctx stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, rt := range p.runtimes {
		wg.Add(1)
		go func(i int, rt *Runtime) {
			defer wg.Done()
			if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Errorf("runtime %d stopped: %v", i, err)
			}
		}(i, rt)
	}
	wg.Wait()
	return ctx.Err()
}
