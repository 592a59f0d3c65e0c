// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"
	"time"

	"github.com/rexec-foundation/rexec/protocol"
)

var registryEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRegisterAndPickIdleFIFO(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	registry.Register("w2", registryEpoch)
	registry.Register("w3", registryEpoch)

	for _, want := range []protocol.Identity{"w1", "w2", "w3"} {
		got, ok := registry.PickIdle()
		if !ok {
			t.Fatalf("PickIdle: no idle worker, want %s", want)
		}
		if got != want {
			t.Errorf("PickIdle = %s, want %s", got, want)
		}
		registry.MarkBusy(got)
	}

	if _, ok := registry.PickIdle(); ok {
		t.Error("PickIdle succeeded with all workers busy")
	}
}

func TestMarkIdleRequeuesAtTail(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	registry.Register("w2", registryEpoch)

	first, _ := registry.PickIdle()
	registry.MarkBusy(first)
	registry.MarkIdle(first)

	// w1 went busy and idle again; w2 has been idle longer and wins.
	got, ok := registry.PickIdle()
	if !ok || got != "w2" {
		t.Errorf("PickIdle = %s (ok=%v), want w2", got, ok)
	}
	got, ok = registry.PickIdle()
	if !ok || got != "w1" {
		t.Errorf("second PickIdle = %s (ok=%v), want w1", got, ok)
	}
}

func TestMarkIdleIdempotent(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)

	picked, _ := registry.PickIdle()
	registry.MarkBusy(picked)
	registry.MarkIdle("w1")
	registry.MarkIdle("w1")
	registry.MarkIdle("w1")

	if got, ok := registry.PickIdle(); !ok || got != "w1" {
		t.Fatalf("PickIdle = %s (ok=%v), want w1", got, ok)
	}
	// Repeated MarkIdle must not leave duplicate queue entries.
	registry.MarkBusy("w1")
	if got, ok := registry.PickIdle(); ok {
		t.Errorf("PickIdle returned %s for a busy worker", got)
	}
}

func TestReRegisterRefreshesHeartbeat(t *testing.T) {
	registry := NewRegistry()
	if isNew := registry.Register("w1", registryEpoch); !isNew {
		t.Error("first Register reported existing worker")
	}

	later := registryEpoch.Add(5 * time.Second)
	if isNew := registry.Register("w1", later); isNew {
		t.Error("re-Register reported new worker")
	}

	record, ok := registry.Get("w1")
	if !ok {
		t.Fatal("worker missing after re-register")
	}
	if !record.LastHeartbeat.Equal(later) {
		t.Errorf("LastHeartbeat = %v, want %v", record.LastHeartbeat, later)
	}
	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	registry := NewRegistry()
	if registry.Heartbeat("ghost", registryEpoch) {
		t.Error("Heartbeat succeeded for unknown worker")
	}
	if registry.MarkBusy("ghost") || registry.MarkIdle("ghost") {
		t.Error("status transition succeeded for unknown worker")
	}
}

func TestEvictStale(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	registry.Register("w2", registryEpoch)

	// w2 heartbeats, w1 goes silent.
	registry.Heartbeat("w2", registryEpoch.Add(5*time.Second))

	evicted := registry.EvictStale(registryEpoch.Add(7*time.Second), 6*time.Second)
	if len(evicted) != 1 || evicted[0] != "w1" {
		t.Fatalf("EvictStale = %v, want [w1]", evicted)
	}
	if _, ok := registry.Get("w1"); ok {
		t.Error("evicted worker still registered")
	}
	if _, ok := registry.Get("w2"); !ok {
		t.Error("live worker evicted")
	}
}

func TestPickIdleSkipsEvicted(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	registry.Register("w2", registryEpoch.Add(time.Second))

	// w1 goes stale while queued idle.
	registry.EvictStale(registryEpoch.Add(10*time.Second), 6*time.Second)

	got, ok := registry.PickIdle()
	if ok {
		t.Errorf("PickIdle = %s after both evicted, want none", got)
	}
}

func TestRemove(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	if !registry.Remove("w1") {
		t.Error("Remove failed for known worker")
	}
	if registry.Remove("w1") {
		t.Error("Remove succeeded twice")
	}
	if _, ok := registry.PickIdle(); ok {
		t.Error("PickIdle returned a removed worker")
	}
}

func TestCountByStatus(t *testing.T) {
	registry := NewRegistry()
	registry.Register("w1", registryEpoch)
	registry.Register("w2", registryEpoch)
	registry.Register("w3", registryEpoch)
	picked, _ := registry.PickIdle()
	registry.MarkBusy(picked)

	idle, busy := registry.CountByStatus()
	if idle != 2 || busy != 1 {
		t.Errorf("CountByStatus = (%d idle, %d busy), want (2, 1)", idle, busy)
	}
}
