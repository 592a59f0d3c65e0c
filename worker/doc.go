// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker provides the Go bindings for serving execution
// requests from a rexec broker.
//
// A [Worker] dials the broker's server endpoint, registers, and runs
// a [Handler] for each assigned request, sending the result followed
// by a ready signal. Heartbeats are sent on a ticker independent of
// execution, so long-running handlers do not trip the broker's
// eviction threshold. Run returns on connection failure so callers
// can redial with their own backoff policy.
package worker
