// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/rexec-foundation/rexec/protocol"
)

// WorkerStatus is a worker's availability state.
type WorkerStatus int

const (
	// StatusIdle: registered and waiting for work.
	StatusIdle WorkerStatus = iota
	// StatusBusy: exactly one pending request is assigned to it.
	StatusBusy
)

// WorkerRecord tracks one registered worker.
type WorkerRecord struct {
	Identity      protocol.Identity
	Status        WorkerStatus
	LastHeartbeat time.Time

	// queued marks the worker as present in the idle queue, so a
	// worker cycling busy→idle repeatedly is never enqueued twice.
	queued bool
}

// Registry tracks known workers and their availability. It is owned
// exclusively by the Router and only ever touched from the dispatcher
// goroutine, so it needs no locking.
//
// Idle selection is FIFO: workers are picked in the order they became
// idle (registration counts as becoming idle), which spreads load
// round-robin instead of hammering the first-registered worker.
type Registry struct {
	workers map[protocol.Identity]*WorkerRecord

	// idleQueue holds identities in became-idle order. Entries are
	// removed lazily in PickIdle: an evicted or since-busied worker
	// is skipped, not searched for at removal time.
	idleQueue []protocol.Identity
}

// NewRegistry returns an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[protocol.Identity]*WorkerRecord)}
}

// Register inserts a new idle worker, or refreshes the heartbeat of an
// already-registered one. Returns true when the worker is new.
func (g *Registry) Register(id protocol.Identity, now time.Time) bool {
	if record, ok := g.workers[id]; ok {
		record.LastHeartbeat = now
		return false
	}
	record := &WorkerRecord{
		Identity:      id,
		Status:        StatusIdle,
		LastHeartbeat: now,
		queued:        true,
	}
	g.workers[id] = record
	g.idleQueue = append(g.idleQueue, id)
	return true
}

// Heartbeat refreshes a worker's last-seen time. Returns false when
// the worker is unknown (late heartbeat after eviction) — the caller
// logs and moves on.
func (g *Registry) Heartbeat(id protocol.Identity, now time.Time) bool {
	record, ok := g.workers[id]
	if !ok {
		return false
	}
	record.LastHeartbeat = now
	return true
}

// MarkBusy transitions a worker to busy. Returns false if unknown.
func (g *Registry) MarkBusy(id protocol.Identity) bool {
	record, ok := g.workers[id]
	if !ok {
		return false
	}
	record.Status = StatusBusy
	return true
}

// MarkIdle transitions a worker to idle and queues it for selection.
// Idempotent; returns false if the worker is unknown.
func (g *Registry) MarkIdle(id protocol.Identity) bool {
	record, ok := g.workers[id]
	if !ok {
		return false
	}
	record.Status = StatusIdle
	if !record.queued {
		record.queued = true
		g.idleQueue = append(g.idleQueue, id)
	}
	return true
}

// PickIdle selects the worker that has been idle the longest, marking
// it no longer queued. Returns false when no worker is idle.
func (g *Registry) PickIdle() (protocol.Identity, bool) {
	for len(g.idleQueue) > 0 {
		id := g.idleQueue[0]
		g.idleQueue = g.idleQueue[1:]

		record, ok := g.workers[id]
		if !ok || record.Status != StatusIdle || !record.queued {
			// Evicted or state changed since enqueue; skip.
			continue
		}
		record.queued = false
		return id, true
	}
	return "", false
}

// EvictStale removes every worker whose last heartbeat is older than
// timeout, returning the evicted identities so the Router can fail any
// pending request assigned to them.
func (g *Registry) EvictStale(now time.Time, timeout time.Duration) []protocol.Identity {
	var evicted []protocol.Identity
	for id, record := range g.workers {
		if now.Sub(record.LastHeartbeat) > timeout {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(g.workers, id)
	}
	return evicted
}

// Remove deletes a worker on explicit disconnect. Returns false if
// unknown.
func (g *Registry) Remove(id protocol.Identity) bool {
	if _, ok := g.workers[id]; !ok {
		return false
	}
	delete(g.workers, id)
	return true
}

// Get returns the record for a worker, or false if unknown.
func (g *Registry) Get(id protocol.Identity) (*WorkerRecord, bool) {
	record, ok := g.workers[id]
	return record, ok
}

// Len returns the number of registered workers.
func (g *Registry) Len() int { return len(g.workers) }

// CountByStatus returns the number of idle and busy workers.
func (g *Registry) CountByStatus() (idle, busy int) {
	for _, record := range g.workers {
		switch record.Status {
		case StatusIdle:
			idle++
		case StatusBusy:
			busy++
		}
	}
	return idle, busy
}
