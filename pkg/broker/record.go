package broker

import (
	"time"
)

// WorkerStatus is the explicit worker state. Transitions are performed
// only by the router loop.
type WorkerStatus int

const (
	// WorkerIdle means the worker is registered and eligible for dispatch.
	WorkerIdle WorkerStatus = iota
	// WorkerActive means exactly one request is dispatched and not yet
	// replied.
	WorkerActive
	// WorkerStopped means the worker is being removed from the registry.
	WorkerStopped
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerActive:
		return "active"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerRecord is the broker's view of one worker. Owned exclusively by
// the router loop; workers only emit signals that transition it.
type WorkerRecord struct {
	ID                string
	Status            WorkerStatus
	LastSeen          time.Time
	ProcessedRequests uint64
	CurrentRequestID  string
}

func (w *WorkerRecord) stale(timeout time.Duration, now time.Time) bool {
	return now.Sub(w.LastSeen) > timeout
}

// WorkerInfo is the read-only snapshot form of a WorkerRecord.
type WorkerInfo struct {
	WorkerID          string  `json:"worker_id"`
	Status            string  `json:"status"`
	LastSeen          float64 `json:"last_seen"`
	ProcessedRequests uint64  `json:"processed_requests"`
	CurrentRequestID  string  `json:"current_request_id,omitempty"`
}

// Stats summarizes broker state for monitoring.
type Stats struct {
	ActiveCount    int    `json:"active_count"`
	IdleCount      int    `json:"idle_count"`
	QueueDepth     int    `json:"queue_depth"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalRequests  uint64 `json:"total_requests"`
	TotalRejected  uint64 `json:"total_rejected"`
	TotalEvicted   uint64 `json:"total_evicted"`
}

// Snapshot is a point-in-time, read-only view of the broker published for
// the monitoring facade. It never aliases router-owned state.
type Snapshot struct {
	Workers []WorkerInfo `json:"workers"`
	Stats   Stats        `json:"stats"`
	TakenAt time.Time    `json:"-"`
}
