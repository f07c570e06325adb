package broker

import (
	"errors"
	"time"

	"github.com/tacoreio/tacore/pkg/audit"
	"github.com/tacoreio/tacore/pkg/protocol"
)

// routerLoop is the single mutator of all registry, pool, correlation, and
// queue state. Every transition in the worker state machine happens here,
// which is what makes the pool-membership invariant hold: an ID is in the
// availability pool exactly when its record is idle and fresh.
func (b *Broker) routerLoop() {
	defer close(b.doneCh)

	sweep := time.NewTicker(b.cfg.HeartbeatInterval)
	defer sweep.Stop()

	for {
		select {
		case <-b.stopCh:
			b.shutdown()
			return
		case ev := <-b.events:
			b.handleEvent(ev)
		case <-sweep.C:
			b.evictStale(time.Now())
		}
		b.publishSnapshot()
	}
}

func (b *Broker) handleEvent(ev event) {
	switch ev.kind {
	case evOpen:
		b.handleOpen(ev.peer)
	case evMessage:
		if ev.peer.side == sideClient {
			b.handleClientMessage(ev.peer, ev.frames)
		} else {
			b.handleWorkerMessage(ev.peer, ev.frames)
		}
	case evClosed:
		b.handleClosed(ev.peer, ev.err)
	}
}

func (b *Broker) handleOpen(p *peer) {
	if p.side == sideClient {
		b.clients[p.id] = p
	} else {
		b.workerPeers[p.id] = p
	}
	b.logger.Debugf("%s connected: %s (%s)", p.side, p.id, p.conn.RemoteAddr())
}

func (b *Broker) handleClosed(p *peer, err error) {
	if p.side == sideClient {
		delete(b.clients, p.id)
		b.logger.Debugf("client disconnected: %s", p.id)
		return
	}

	delete(b.workerPeers, p.id)
	if _, known := b.workers[p.id]; known {
		b.logger.Infof("worker %s connection lost, evicting", p.id)
		b.evictWorker(p.id)
	}
	_ = err
}

// handleClientMessage routes one frontend request: dispatch when a worker
// is available, queue when not, reject when the queue is full.
func (b *Broker) handleClientMessage(p *peer, frames [][]byte) {
	if len(frames) != 1 {
		b.dropMalformed(p, errors.New("frontend message must carry exactly one payload frame"))
		return
	}
	req, err := protocol.DecodeRequest(frames[0])
	if err != nil {
		b.dropMalformed(p, err)
		return
	}

	b.totalRequests++

	pend := &pendingRequest{
		clientID:   p.id,
		requestID:  req.RequestID,
		method:     req.Method,
		payload:    frames[0],
		enqueuedAt: time.Now(),
	}

	if workerID, ok := b.pool.pop(); ok {
		b.dispatch(workerID, pend)
		return
	}

	if len(b.pending) >= b.cfg.MaxPendingRequests {
		b.totalRejected++
		b.metrics.RejectedTotal.Inc()
		b.metrics.RequestsTotal.WithLabelValues(req.Method, protocol.StatusError).Inc()
		b.replyToClient(p.id, protocol.NewErrorResponse(req.RequestID, protocol.ErrorOverloaded))
		b.logger.Warnf("pending queue full (%d), rejecting request %s", b.cfg.MaxPendingRequests, req.RequestID)
		return
	}

	b.pending = append(b.pending, pend)
	b.metrics.QueuedTotal.Inc()
}

// dispatch hands a request to a worker. The worker leaves the pool in the
// same step its record turns active; the two can never disagree.
func (b *Broker) dispatch(workerID string, pend *pendingRequest) {
	rec, ok := b.workers[workerID]
	if !ok {
		// The pool never outlives the record; eviction removes both in one
		// step. Requeue at the head if it ever happens anyway.
		b.logger.Errorf("pool returned unknown worker %s", workerID)
		b.pending = append([]*pendingRequest{pend}, b.pending...)
		return
	}

	wp := b.workerPeers[workerID]
	if wp == nil || !wp.send(protocol.ControlFrames(protocol.CmdRequest, pend.payload)) {
		b.logger.Warnf("worker %s unreachable at dispatch, evicting", workerID)
		b.evictWorker(workerID)
		if workerID, ok := b.pool.pop(); ok {
			b.dispatch(workerID, pend)
		} else {
			b.pending = append([]*pendingRequest{pend}, b.pending...)
		}
		return
	}

	rec.Status = WorkerActive
	rec.CurrentRequestID = pend.requestID
	b.inflight[pend.requestID] = &inflightEntry{
		requestID:    pend.requestID,
		method:       pend.method,
		clientID:     pend.clientID,
		workerID:     workerID,
		dispatchedAt: time.Now(),
	}
	b.metrics.DispatchedTotal.Inc()

	ev := audit.NewEvent(audit.KindRequest)
	ev.RequestID = pend.requestID
	ev.Method = pend.method
	ev.WorkerID = workerID
	ev.ClientID = pend.clientID
	b.auditor.Publish(ev)
}

// dispatchPending drains the queue while idle workers remain.
func (b *Broker) dispatchPending() {
	for len(b.pending) > 0 {
		workerID, ok := b.pool.pop()
		if !ok {
			return
		}
		pend := b.pending[0]
		b.pending = b.pending[1:]
		b.dispatch(workerID, pend)
	}
}

func (b *Broker) handleWorkerMessage(p *peer, frames [][]byte) {
	cmd, body, err := protocol.ParseControl(frames)
	if err != nil {
		b.dropMalformed(p, err)
		return
	}

	switch cmd {
	case protocol.CmdReady:
		b.handleReady(p)
	case protocol.CmdHeartbeat:
		b.handleHeartbeat(p)
	case protocol.CmdReply:
		b.handleReply(p, body)
	default:
		b.dropMalformed(p, errors.New("unexpected command "+cmd.String()+" from worker"))
	}
}

// handleReady registers a worker or returns a known one to the pool.
func (b *Broker) handleReady(p *peer) {
	now := time.Now()
	rec, exists := b.workers[p.id]
	if !exists {
		rec = &WorkerRecord{
			ID:       p.id,
			Status:   WorkerIdle,
			LastSeen: now,
		}
		b.workers[p.id] = rec
		b.pool.push(p.id)
		b.logger.Infof("worker registered: %s (pool=%d)", p.id, b.pool.len())
		b.dispatchPending()
		return
	}

	rec.LastSeen = now
	switch rec.Status {
	case WorkerIdle:
		// READY while idle is a liveness refresh; membership is already
		// guaranteed, push refuses a duplicate.
		b.pool.push(p.id)
	case WorkerActive:
		// A reply for the in-flight request must arrive (or the worker be
		// evicted) before the worker can return to the pool.
		b.logger.Warnf("worker %s sent READY while active on %s", p.id, rec.CurrentRequestID)
	case WorkerStopped:
	}
}

func (b *Broker) handleHeartbeat(p *peer) {
	rec, exists := b.workers[p.id]
	if !exists {
		b.logger.Debugf("heartbeat from unregistered worker %s ignored", p.id)
		return
	}
	rec.LastSeen = time.Now()
	b.metrics.HeartbeatsTotal.Inc()
}

// handleReply forwards a worker's response to the originating client and
// returns the worker to the pool.
func (b *Broker) handleReply(p *peer, body []byte) {
	resp, err := protocol.DecodeResponse(body)
	if err != nil {
		b.dropMalformed(p, err)
		return
	}

	entry, ok := b.inflight[resp.RequestID]
	if !ok {
		b.logger.Warnf("reply for unknown request %s from worker %s dropped", resp.RequestID, p.id)
		return
	}
	if entry.workerID != p.id {
		b.logger.Warnf("reply for request %s from wrong worker %s (expected %s) dropped", resp.RequestID, p.id, entry.workerID)
		return
	}
	delete(b.inflight, resp.RequestID)

	b.forwardReply(entry.clientID, body)
	b.totalProcessed++
	b.metrics.RecordRequest(entry.method, resp.Status, time.Since(entry.dispatchedAt))

	rec, exists := b.workers[p.id]
	if exists {
		rec.LastSeen = time.Now()
		rec.ProcessedRequests++
		rec.Status = WorkerIdle
		rec.CurrentRequestID = ""
		b.pool.push(p.id)
	}

	ev := audit.NewEvent(audit.KindResponse)
	ev.RequestID = resp.RequestID
	ev.Method = entry.method
	ev.WorkerID = p.id
	ev.ClientID = entry.clientID
	ev.Status = resp.Status
	ev.Error = resp.Error
	b.auditor.Publish(ev)

	b.dispatchPending()
}

// forwardReply sends raw response bytes to a client connection. A gone
// client simply loses the response; the core has no abandoned-request
// tracking beyond worker eviction.
func (b *Broker) forwardReply(clientID string, body []byte) {
	cp, ok := b.clients[clientID]
	if !ok {
		b.logger.Debugf("client %s gone, dropping reply", clientID)
		return
	}
	if !cp.send([][]byte{body}) {
		b.logger.Warnf("client %s send queue full, dropping reply", clientID)
	}
}

func (b *Broker) replyToClient(clientID string, resp *protocol.Response) {
	body, err := protocol.EncodeResponse(resp)
	if err != nil {
		b.logger.Errorf("encode response: %v", err)
		return
	}
	b.forwardReply(clientID, body)
}

// evictStale removes workers that have missed the heartbeat timeout.
func (b *Broker) evictStale(now time.Time) {
	for id, rec := range b.workers {
		if rec.stale(b.cfg.HeartbeatTimeout, now) {
			b.logger.Infof("worker %s missed heartbeat timeout (%s), evicting", id, b.cfg.HeartbeatTimeout)
			b.evictWorker(id)
		}
	}
}

// evictWorker removes a worker from the registry and pool. An in-flight
// request is failed back to the waiting client as WorkerTimeout; the core
// never leaves a client waiting on an evicted worker.
func (b *Broker) evictWorker(id string) {
	rec, ok := b.workers[id]
	if !ok {
		return
	}

	rec.Status = WorkerStopped
	b.pool.remove(id)
	delete(b.workers, id)
	b.totalEvicted++
	b.metrics.EvictionsTotal.Inc()

	if rec.CurrentRequestID != "" {
		if entry, ok := b.inflight[rec.CurrentRequestID]; ok {
			delete(b.inflight, rec.CurrentRequestID)
			b.replyToClient(entry.clientID, protocol.NewErrorResponse(entry.requestID, protocol.ErrorWorkerTimeout))
			b.metrics.RequestsTotal.WithLabelValues(entry.method, protocol.StatusError).Inc()

			ev := audit.NewEvent(audit.KindEviction)
			ev.RequestID = entry.requestID
			ev.Method = entry.method
			ev.WorkerID = id
			ev.ClientID = entry.clientID
			ev.Error = protocol.ErrorWorkerTimeout
			b.auditor.Publish(ev)
		}
	} else {
		ev := audit.NewEvent(audit.KindEviction)
		ev.WorkerID = id
		b.auditor.Publish(ev)
	}

	if wp, ok := b.workerPeers[id]; ok {
		delete(b.workerPeers, id)
		wp.close()
	}
}

func (b *Broker) dropMalformed(p *peer, err error) {
	b.metrics.MalformedTotal.Inc()
	b.logger.Warnf("dropping malformed frame from %s %s: %v", p.side, p.id, err)
}

// shutdown answers queued requests with Overloaded and closes every peer.
func (b *Broker) shutdown() {
	for _, pend := range b.pending {
		b.replyToClient(pend.clientID, protocol.NewErrorResponse(pend.requestID, protocol.ErrorOverloaded))
	}
	b.pending = nil

	for _, p := range b.clients {
		p.beginClose()
	}
	for _, p := range b.workerPeers {
		p.close()
	}
	b.publishSnapshot()
	b.logger.Info("router stopped")
}

// publishSnapshot copies router state into an immutable snapshot for the
// monitoring facade. Reads never contend with the router.
func (b *Broker) publishSnapshot() {
	workers := make([]WorkerInfo, 0, len(b.workers))
	idle, active := 0, 0
	for _, rec := range b.workers {
		switch rec.Status {
		case WorkerIdle:
			idle++
		case WorkerActive:
			active++
		case WorkerStopped:
		}
		workers = append(workers, WorkerInfo{
			WorkerID:          rec.ID,
			Status:            rec.Status.String(),
			LastSeen:          float64(rec.LastSeen.UnixNano()) / 1e9,
			ProcessedRequests: rec.ProcessedRequests,
			CurrentRequestID:  rec.CurrentRequestID,
		})
	}

	b.metrics.UpdatePool(idle, active, len(b.pending))

	b.snapshot.Store(Snapshot{
		Workers: workers,
		Stats: Stats{
			ActiveCount:    active,
			IdleCount:      idle,
			QueueDepth:     len(b.pending),
			TotalProcessed: b.totalProcessed,
			TotalRequests:  b.totalRequests,
			TotalRejected:  b.totalRejected,
			TotalEvicted:   b.totalEvicted,
		},
		TakenAt: time.Now(),
	})
}
