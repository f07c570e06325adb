// Package monitor exposes read-only broker state to an external HTTP
// layer. Nothing here blocks or mutates core state; all reads go through
// published snapshots.
package monitor

import (
	"time"

	"github.com/tacoreio/tacore/pkg/broker"
)

// SnapshotSource supplies point-in-time broker state.
type SnapshotSource interface {
	Snapshot() broker.Snapshot
	StartedAt() time.Time
}

// Facade is the read-only view over a broker.
type Facade struct {
	source SnapshotSource
}

// NewFacade creates a facade over the given source (fail-fast on nil).
func NewFacade(source SnapshotSource) *Facade {
	if source == nil {
		panic("monitor source cannot be nil")
	}
	return &Facade{source: source}
}

// ListWorkers returns the current worker records.
func (f *Facade) ListWorkers() []broker.WorkerInfo {
	return f.source.Snapshot().Workers
}

// Stats returns the current broker statistics.
func (f *Facade) Stats() broker.Stats {
	return f.source.Snapshot().Stats
}

// Uptime returns how long the broker has been running.
func (f *Facade) Uptime() time.Duration {
	started := f.source.StartedAt()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}
