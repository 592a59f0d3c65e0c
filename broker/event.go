// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "github.com/rexec-foundation/rexec/protocol"

// Channel identifies which endpoint an event came from.
type Channel int

const (
	// ClientChannel is the client-facing endpoint.
	ClientChannel Channel = iota
	// WorkerChannel is the server-facing endpoint.
	WorkerChannel
)

func (c Channel) String() string {
	switch c {
	case ClientChannel:
		return "client"
	case WorkerChannel:
		return "server"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the dispatcher: a decoded inbound
// envelope, or a connection-closed notification. Endpoints produce
// events from their reader goroutines; the dispatcher is the sole
// consumer, which is what serializes all router state mutations onto
// one goroutine.
type Event struct {
	Channel Channel
	Sender  protocol.Identity

	// Envelope is the decoded frame. Zero when Gone is set.
	Envelope protocol.Envelope

	// Gone marks the connection as closed. For workers this triggers
	// eviction of the identity and failure of its in-flight request.
	Gone bool
}
