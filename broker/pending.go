// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/rexec-foundation/rexec/protocol"
)

// PendingRequest correlates an in-flight assignment back to its
// originating client.
type PendingRequest struct {
	CorrelationID uint64
	Client        protocol.Identity
	Worker        protocol.Identity
	SubmittedAt   time.Time
}

// PendingTable maps correlation ids of in-flight requests to their
// origin. Like the Registry, it is owned exclusively by the Router and
// touched only from the dispatcher goroutine.
//
// The table has no hard capacity: it is implicitly bounded by the
// worker count, since every entry references a distinct busy worker.
type PendingTable struct {
	entries map[uint64]PendingRequest
}

// NewPendingTable returns an empty pending-request table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]PendingRequest)}
}

// Insert records a new in-flight request. Returns
// ErrDuplicateCorrelationID if the id is already present; the existing
// entry is left untouched.
func (t *PendingTable) Insert(correlationID uint64, client, worker protocol.Identity, now time.Time) error {
	if _, exists := t.entries[correlationID]; exists {
		return ErrDuplicateCorrelationID
	}
	t.entries[correlationID] = PendingRequest{
		CorrelationID: correlationID,
		Client:        client,
		Worker:        worker,
		SubmittedAt:   now,
	}
	return nil
}

// Get returns the entry for a correlation id without removing it.
func (t *PendingTable) Get(correlationID uint64) (PendingRequest, bool) {
	entry, ok := t.entries[correlationID]
	return entry, ok
}

// Resolve removes and returns the entry for a correlation id. Returns
// false for an unknown id (late or duplicate result).
func (t *PendingTable) Resolve(correlationID uint64) (PendingRequest, bool) {
	entry, ok := t.entries[correlationID]
	if ok {
		delete(t.entries, correlationID)
	}
	return entry, ok
}

// Expire removes and returns every entry submitted more than timeout
// ago, so the Router can fail requests whose worker never responded.
func (t *PendingTable) Expire(now time.Time, timeout time.Duration) []PendingRequest {
	var expired []PendingRequest
	for id, entry := range t.entries {
		if now.Sub(entry.SubmittedAt) > timeout {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}
	return expired
}

// RemoveWorker removes and returns every entry assigned to the given
// worker. Used when a worker is evicted or disconnects.
func (t *PendingTable) RemoveWorker(worker protocol.Identity) []PendingRequest {
	var removed []PendingRequest
	for id, entry := range t.entries {
		if entry.Worker == worker {
			removed = append(removed, entry)
			delete(t.entries, id)
		}
	}
	return removed
}

// HasWorker reports whether any entry is assigned to the given worker.
func (t *PendingTable) HasWorker(worker protocol.Identity) bool {
	for _, entry := range t.entries {
		if entry.Worker == worker {
			return true
		}
	}
	return false
}

// DrainAll removes and returns every entry. Used by the shutdown
// force-fail.
func (t *PendingTable) DrainAll() []PendingRequest {
	drained := make([]PendingRequest, 0, len(t.entries))
	for id, entry := range t.entries {
		drained = append(drained, entry)
		delete(t.entries, id)
	}
	return drained
}

// Len returns the number of in-flight entries.
func (t *PendingTable) Len() int { return len(t.entries) }
