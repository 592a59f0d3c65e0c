// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"testing"
	"time"
)

var pendingEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPendingInsertAndResolve(t *testing.T) {
	table := NewPendingTable()
	if err := table.Insert(1, "client-1", "worker-1", pendingEpoch); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	entry, ok := table.Get(1)
	if !ok {
		t.Fatal("Get missed inserted entry")
	}
	if entry.Client != "client-1" || entry.Worker != "worker-1" {
		t.Errorf("entry = %+v", entry)
	}

	resolved, ok := table.Resolve(1)
	if !ok || resolved.CorrelationID != 1 {
		t.Fatalf("Resolve = %+v (ok=%v)", resolved, ok)
	}
	if _, ok := table.Resolve(1); ok {
		t.Error("Resolve succeeded twice for the same id")
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d after resolve, want 0", table.Len())
	}
}

func TestPendingDuplicateCorrelationID(t *testing.T) {
	table := NewPendingTable()
	if err := table.Insert(7, "client-1", "worker-1", pendingEpoch); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := table.Insert(7, "client-2", "worker-2", pendingEpoch)
	if !errors.Is(err, ErrDuplicateCorrelationID) {
		t.Fatalf("Insert duplicate = %v, want ErrDuplicateCorrelationID", err)
	}

	// The original entry survives the collision.
	entry, _ := table.Get(7)
	if entry.Client != "client-1" {
		t.Errorf("entry.Client = %s, want client-1", entry.Client)
	}
}

func TestPendingExpire(t *testing.T) {
	table := NewPendingTable()
	table.Insert(1, "c1", "w1", pendingEpoch)
	table.Insert(2, "c2", "w2", pendingEpoch.Add(20*time.Second))

	expired := table.Expire(pendingEpoch.Add(31*time.Second), 30*time.Second)
	if len(expired) != 1 || expired[0].CorrelationID != 1 {
		t.Fatalf("Expire = %+v, want entry 1 only", expired)
	}
	if _, ok := table.Get(2); !ok {
		t.Error("fresh entry expired")
	}
}

func TestPendingRemoveWorker(t *testing.T) {
	table := NewPendingTable()
	table.Insert(1, "c1", "w1", pendingEpoch)
	table.Insert(2, "c2", "w2", pendingEpoch)
	table.Insert(3, "c3", "w1", pendingEpoch)

	removed := table.RemoveWorker("w1")
	if len(removed) != 2 {
		t.Fatalf("RemoveWorker removed %d entries, want 2", len(removed))
	}
	if table.HasWorker("w1") {
		t.Error("HasWorker true after RemoveWorker")
	}
	if !table.HasWorker("w2") {
		t.Error("unrelated worker's entry removed")
	}
}

func TestPendingDrainAll(t *testing.T) {
	table := NewPendingTable()
	table.Insert(1, "c1", "w1", pendingEpoch)
	table.Insert(2, "c2", "w2", pendingEpoch)

	drained := table.DrainAll()
	if len(drained) != 2 {
		t.Fatalf("DrainAll = %d entries, want 2", len(drained))
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d after drain, want 0", table.Len())
	}
}
