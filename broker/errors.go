// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// ErrDuplicateCorrelationID reports an insert into the pending table
// with a correlation id that is already in flight. Correlation ids are
// broker-generated from a monotonic counter, so this is an internal
// invariant violation: it is logged as a bug and the request is
// rejected, never silently overwritten.
var ErrDuplicateCorrelationID = errors.New("broker: duplicate correlation id")

// Failure reasons surfaced to clients on failure envelopes. These are
// part of the wire contract: clients branch on them only for display,
// never for dispatch.
const (
	// ReasonWorkerEvicted: the assigned worker missed enough
	// heartbeats to be evicted. The broker does not resubmit — the
	// execution may have side effects, so the retry decision belongs
	// to the client.
	ReasonWorkerEvicted = "worker evicted"

	// ReasonWorkerDisconnected: the assigned worker's connection
	// closed before it returned a result.
	ReasonWorkerDisconnected = "worker disconnected"

	// ReasonWorkerUnavailable: the work assignment could not be
	// delivered to the selected worker.
	ReasonWorkerUnavailable = "worker unavailable"

	// ReasonRequestExpired: no result arrived within the configured
	// request expiry.
	ReasonRequestExpired = "request expired"

	// ReasonShutdown: the broker force-failed the request at the end
	// of the shutdown grace period.
	ReasonShutdown = "broker shutting down"

	// ReasonInternal: the broker hit an internal invariant violation
	// while handling the request.
	ReasonInternal = "internal error"

	// ReasonTokenInvalid: token validation rejected the request.
	ReasonTokenInvalid = "token validation failed"

	// ReasonTokenMissing: the broker requires a token and the request
	// carried none.
	ReasonTokenMissing = "request missing token"
)
