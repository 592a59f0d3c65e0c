// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"time"

	"github.com/rexec-foundation/rexec/protocol"
)

// Sender delivers an envelope to the peer with the given identity.
// Send reports false when the peer is gone or its send queue is full;
// the router treats an undeliverable work assignment as a dead worker
// and an undeliverable client response as a lost client (logged, not
// retried — at-most-one delivery).
type Sender interface {
	Send(to protocol.Identity, env protocol.Envelope) bool
}

// RouterConfig carries the routing-policy knobs out of the full broker
// configuration.
type RouterConfig struct {
	// EvictionThreshold is the missed-heartbeat window after which a
	// worker is evicted.
	EvictionThreshold time.Duration

	// RequestExpiry is how long an assigned request may await its
	// result.
	RequestExpiry time.Duration

	// BacklogCapacity bounds the queue of requests waiting for an
	// idle worker. At capacity, new requests are rejected with
	// backpressure.
	BacklogCapacity int
}

// queuedRequest is one backlog entry: a request that arrived while no
// worker was idle. Its correlation id is already assigned so the
// eventual response (or shutdown failure) can be correlated.
type queuedRequest struct {
	correlationID uint64
	client        protocol.Identity
	payload       []byte
	compressed    bool
	queuedAt      time.Time
}

// Router is the broker's matching engine. It owns the worker registry,
// the pending-request table, and the backlog, and matches inbound
// client requests to available workers.
//
// Router is not safe for concurrent use: every method must be called
// from the dispatcher goroutine. That single-writer discipline is what
// lets the registry, table, and backlog go lock-free.
type Router struct {
	cfg      RouterConfig
	registry *Registry
	pending  *PendingTable
	backlog  []queuedRequest

	clients Sender
	workers Sender

	logger  *slog.Logger
	metrics *Metrics

	// nextCorrelationID is the monotonic source of correlation ids.
	// Client-supplied ids are never trusted; the counter guarantees
	// table-wide uniqueness for the life of the process.
	nextCorrelationID uint64

	draining bool
}

// NewRouter creates a Router delivering outbound envelopes through the
// given client and worker senders.
func NewRouter(cfg RouterConfig, clients, workers Sender, logger *slog.Logger, metrics *Metrics) *Router {
	return &Router{
		cfg:      cfg,
		registry: NewRegistry(),
		pending:  NewPendingTable(),
		clients:  clients,
		workers:  workers,
		logger:   logger,
		metrics:  metrics,
	}
}

// HandleRequest processes one client request envelope: assign it to an
// idle worker, queue it, or reject it.
func (r *Router) HandleRequest(env protocol.Envelope, now time.Time) {
	r.metrics.RequestsTotal.Inc()

	if r.draining {
		r.metrics.UnavailableTotal.Inc()
		r.clients.Send(env.Sender, protocol.Envelope{Kind: protocol.KindUnavailable})
		return
	}

	r.nextCorrelationID++
	correlationID := r.nextCorrelationID

	if worker, ok := r.registry.PickIdle(); ok {
		r.assign(correlationID, env.Sender, worker, env.Payload, env.Compressed, now)
		r.updateGauges()
		return
	}

	if len(r.backlog) >= r.cfg.BacklogCapacity {
		r.metrics.BackpressureTotal.Inc()
		r.logger.Debug("backlog full, rejecting request",
			"client", env.Sender,
			"capacity", r.cfg.BacklogCapacity,
		)
		r.clients.Send(env.Sender, protocol.Envelope{Kind: protocol.KindBackpressure})
		return
	}

	r.backlog = append(r.backlog, queuedRequest{
		correlationID: correlationID,
		client:        env.Sender,
		payload:       env.Payload,
		compressed:    env.Compressed,
		queuedAt:      now,
	})
	r.logger.Debug("request queued",
		"client", env.Sender,
		"correlation_id", correlationID,
		"backlog", len(r.backlog),
	)
	r.updateGauges()
}

// HandleWorker processes one envelope from the server-facing channel.
func (r *Router) HandleWorker(env protocol.Envelope, now time.Time) {
	switch env.Kind {
	case protocol.KindRegister:
		if r.registry.Register(env.Sender, now) {
			r.logger.Info("worker registered", "worker", env.Sender)
		} else {
			r.logger.Debug("worker re-registered", "worker", env.Sender)
		}
		r.dispatchBacklog(env.Sender, now)

	case protocol.KindHeartbeat, protocol.KindReady:
		if !r.registry.Heartbeat(env.Sender, now) {
			// Late message from an evicted worker. Not fatal; the
			// worker re-registers on its next cycle.
			r.metrics.DroppedTotal.WithLabelValues(dropCauseUnknownPeer).Inc()
			r.logger.Debug("liveness signal from unknown worker",
				"worker", env.Sender, "kind", env.Kind)
			return
		}
		r.reconcileIdle(env.Sender)
		r.dispatchBacklog(env.Sender, now)

	case protocol.KindResult:
		r.handleResult(env, now)

	default:
		// DecodeWorker already rejects anything else; this is a
		// programming error, not a peer error.
		r.logger.Error("unroutable worker envelope", "kind", env.Kind)
	}
	r.updateGauges()
}

// handleResult resolves a worker result back to its client.
func (r *Router) handleResult(env protocol.Envelope, now time.Time) {
	entry, ok := r.pending.Get(env.CorrelationID)
	if !ok {
		// Late result after expiry or eviction, or a duplicate. Drop;
		// the first response already won.
		r.metrics.DroppedTotal.WithLabelValues(dropCauseUnknownID).Inc()
		r.logger.Debug("result with unknown correlation id",
			"worker", env.Sender,
			"correlation_id", env.CorrelationID,
		)
	} else if entry.Worker != env.Sender {
		// A result for someone else's assignment. Keep the entry: the
		// assigned worker may still answer.
		r.metrics.DroppedTotal.WithLabelValues(dropCauseUnknownID).Inc()
		r.logger.Warn("result from wrong worker",
			"worker", env.Sender,
			"assigned", entry.Worker,
			"correlation_id", env.CorrelationID,
		)
	} else {
		r.pending.Resolve(env.CorrelationID)
		r.metrics.CompletedTotal.Inc()
		delivered := r.clients.Send(entry.Client, protocol.Envelope{
			Kind:          protocol.KindResponse,
			CorrelationID: entry.CorrelationID,
			Payload:       env.Payload,
			Compressed:    env.Compressed,
			Reason:        env.Reason,
		})
		if !delivered {
			// Client gone. The response is dropped, not re-sent:
			// at-most-one delivery.
			r.metrics.DroppedTotal.WithLabelValues(dropCauseUndeliver).Inc()
			r.logger.Debug("response undeliverable",
				"client", entry.Client,
				"correlation_id", entry.CorrelationID,
			)
		}
	}

	if !r.registry.Heartbeat(env.Sender, now) {
		return
	}
	r.reconcileIdle(env.Sender)
	r.dispatchBacklog(env.Sender, now)
}

// reconcileIdle marks a worker idle unless a pending request is still
// assigned to it. A busy worker whose request has expired becomes
// usable again on its next ready or heartbeat.
func (r *Router) reconcileIdle(worker protocol.Identity) {
	record, ok := r.registry.Get(worker)
	if !ok {
		return
	}
	if record.Status == StatusBusy && r.pending.HasWorker(worker) {
		return
	}
	r.registry.MarkIdle(worker)
}

// dispatchBacklog assigns the oldest queued request to the given
// worker if the worker is idle and the backlog is not empty.
func (r *Router) dispatchBacklog(worker protocol.Identity, now time.Time) {
	if len(r.backlog) == 0 {
		return
	}
	record, ok := r.registry.Get(worker)
	if !ok || record.Status != StatusIdle {
		return
	}
	// Claim the worker via PickIdle so the idle queue stays
	// consistent. FIFO across workers is preserved: this worker just
	// became idle, so favoring it equals draining to the queue head.
	picked, ok := r.registry.PickIdle()
	if !ok {
		return
	}
	entry := r.backlog[0]
	r.backlog = r.backlog[1:]
	r.assign(entry.correlationID, entry.client, picked, entry.payload, entry.compressed, now)
}

// assign binds a request to a worker: mark busy, record the pending
// entry, and forward the assignment.
func (r *Router) assign(correlationID uint64, client, worker protocol.Identity, payload []byte, compressed bool, now time.Time) {
	r.registry.MarkBusy(worker)

	if err := r.pending.Insert(correlationID, client, worker, now); err != nil {
		// Correlation ids are broker-generated; a duplicate is a bug.
		r.logger.Error("pending insert failed",
			"correlation_id", correlationID,
			"error", err,
		)
		r.registry.MarkIdle(worker)
		r.fail(PendingRequest{CorrelationID: correlationID, Client: client}, ReasonInternal)
		return
	}

	delivered := r.workers.Send(worker, protocol.Envelope{
		Kind:          protocol.KindAssign,
		CorrelationID: correlationID,
		Payload:       payload,
		Compressed:    compressed,
	})
	if !delivered {
		// The worker's connection is gone or wedged. Treat it as dead
		// rather than leaving the request to expire.
		r.logger.Warn("assignment undeliverable, dropping worker", "worker", worker)
		r.pending.Resolve(correlationID)
		r.registry.Remove(worker)
		r.fail(PendingRequest{CorrelationID: correlationID, Client: client}, ReasonWorkerUnavailable)
		return
	}

	r.metrics.AssignedTotal.Inc()
	r.logger.Debug("request assigned",
		"client", client,
		"worker", worker,
		"correlation_id", correlationID,
		"payload_bytes", len(payload),
	)
}

// WorkerGone handles a worker connection closing: the worker is
// removed and any request assigned to it is failed back to its client.
func (r *Router) WorkerGone(worker protocol.Identity) {
	if !r.registry.Remove(worker) {
		return
	}
	r.logger.Info("worker disconnected", "worker", worker)
	for _, entry := range r.pending.RemoveWorker(worker) {
		r.fail(entry, ReasonWorkerDisconnected)
	}
	r.updateGauges()
}

// ClientGone handles a client connection closing. No table references
// clients, so there is nothing to clean up: any response still in
// flight for it will simply be undeliverable.
func (r *Router) ClientGone(client protocol.Identity) {
	r.logger.Debug("client disconnected", "client", client)
}

// Tick runs the periodic maintenance pass: evict workers that missed
// their heartbeats, fail their in-flight requests, and expire requests
// whose worker never responded.
func (r *Router) Tick(now time.Time) {
	for _, worker := range r.registry.EvictStale(now, r.cfg.EvictionThreshold) {
		r.metrics.EvictionsTotal.Inc()
		r.logger.Warn("worker evicted", "worker", worker,
			"threshold", r.cfg.EvictionThreshold)
		for _, entry := range r.pending.RemoveWorker(worker) {
			r.fail(entry, ReasonWorkerEvicted)
		}
	}

	for _, entry := range r.pending.Expire(now, r.cfg.RequestExpiry) {
		r.logger.Warn("request expired",
			"correlation_id", entry.CorrelationID,
			"worker", entry.Worker,
			"expiry", r.cfg.RequestExpiry,
		)
		r.fail(entry, ReasonRequestExpired)
	}

	r.updateGauges()
}

// fail sends a failure envelope for a request to its client.
func (r *Router) fail(entry PendingRequest, reason string) {
	r.metrics.FailedTotal.WithLabelValues(reason).Inc()
	delivered := r.clients.Send(entry.Client, protocol.Envelope{
		Kind:          protocol.KindFailure,
		CorrelationID: entry.CorrelationID,
		Reason:        reason,
	})
	if !delivered {
		r.logger.Debug("failure undeliverable",
			"client", entry.Client,
			"correlation_id", entry.CorrelationID,
			"reason", reason,
		)
	}
}

// BeginShutdown stops admitting new requests. In-flight and queued
// requests keep draining until Drained reports true or the dispatcher
// calls ForceFailRemaining at the end of the grace period.
func (r *Router) BeginShutdown() {
	if r.draining {
		return
	}
	r.draining = true
	r.logger.Info("drain started",
		"pending", r.pending.Len(),
		"backlog", len(r.backlog),
	)
}

// ShuttingDown reports whether BeginShutdown has been called.
func (r *Router) ShuttingDown() bool { return r.draining }

// Drained reports whether shutdown can complete: draining with no
// in-flight and no queued requests left.
func (r *Router) Drained() bool {
	return r.draining && r.pending.Len() == 0 && len(r.backlog) == 0
}

// ForceFailRemaining fails every in-flight and queued request. Called
// when the shutdown grace period elapses before the drain completes.
func (r *Router) ForceFailRemaining() {
	for _, entry := range r.pending.DrainAll() {
		r.fail(entry, ReasonShutdown)
	}
	for _, queued := range r.backlog {
		r.fail(PendingRequest{
			CorrelationID: queued.correlationID,
			Client:        queued.client,
		}, ReasonShutdown)
	}
	r.backlog = nil
	r.updateGauges()
}

// updateGauges refreshes the depth and worker-count gauges after a
// state mutation.
func (r *Router) updateGauges() {
	idle, busy := r.registry.CountByStatus()
	r.metrics.WorkersIdle.Set(float64(idle))
	r.metrics.WorkersBusy.Set(float64(busy))
	r.metrics.BacklogDepth.Set(float64(len(r.backlog)))
	r.metrics.PendingDepth.Set(float64(r.pending.Len()))
}
