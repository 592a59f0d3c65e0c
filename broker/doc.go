// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the rexec rendezvous service: a message
// broker that decouples a dynamic population of clients from a
// horizontally-scalable fleet of backend execution workers. Both sides
// connect to fixed broker addresses, so clients never discover
// individual workers and workers can come and go without
// client-visible disruption.
//
// # Architecture
//
// Three TCP endpoints feed a single dispatcher goroutine:
//
//   - the client-facing endpoint accepts request envelopes,
//   - the server-facing endpoint accepts worker registration,
//     heartbeat, ready, and result envelopes,
//   - the control endpoint accepts the termination signal.
//
// Endpoint reader goroutines only decode frames and push events; the
// dispatcher is the sole consumer and the only goroutine that touches
// the [Router], which owns the worker [Registry], the [PendingTable],
// and the backlog. That single-writer discipline removes every lock
// from the routing engine; throughput is bounded by what one goroutine
// can multiplex, which is fine because each message costs O(1) table
// work — actual execution happens on the workers.
//
// # Matching
//
// An arriving request is assigned a broker-generated correlation id
// and matched to the longest-idle worker. With no idle worker it joins
// a bounded FIFO backlog; at capacity it is rejected with an explicit
// backpressure envelope. Both idle-worker selection and backlog
// draining are strict FIFO, so no queued request starves. A worker
// that misses heartbeats past the eviction threshold is removed and
// its in-flight request failed back to the client; an assigned request
// with no result within the expiry window fails the same way. The
// broker never resubmits: executions may have side effects, so the
// retry decision belongs to the client.
//
// # Shutdown
//
// On a control-channel termination command the router stops admitting
// requests (late arrivals get an unavailable envelope) and keeps
// draining in-flight and queued work until it finishes or the grace
// period elapses, at which point the remainder is force-failed and the
// dispatcher exits. At most one response is ever delivered per
// correlation id, in every path.
package broker
