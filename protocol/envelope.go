// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/rexec-foundation/rexec/lib/codec"
)

// Identity is an opaque, transport-assigned handle for one connected
// peer (client or worker). It is stable for the lifetime of the
// connection and never reused for a different connection within one
// broker process. Identities are not assumed stable across reconnects.
type Identity string

// Kind discriminates envelope variants. The set is closed: decoding an
// unknown kind fails, it is never dispatched dynamically.
type Kind string

// Kinds accepted on the client-facing channel.
const (
	// KindRequest carries a client's execution request payload.
	KindRequest Kind = "request"
)

// Kinds accepted on the server-facing channel.
const (
	// KindRegister announces a new worker. Sent once per connection.
	KindRegister Kind = "register"
	// KindHeartbeat is the worker's periodic liveness signal.
	KindHeartbeat Kind = "heartbeat"
	// KindReady signals the worker is idle and wants work.
	KindReady Kind = "ready"
	// KindResult carries a worker's response for an assigned request.
	KindResult Kind = "result"
)

// Kinds produced by the broker.
const (
	// KindAssign delivers a request to a worker.
	KindAssign Kind = "assign"
	// KindResponse delivers a worker's result to the client.
	KindResponse Kind = "response"
	// KindFailure tells a client its request failed (worker evicted,
	// request expired, shutdown force-fail, or auth rejection).
	KindFailure Kind = "failure"
	// KindBackpressure rejects a request because the backlog is full.
	KindBackpressure Kind = "backpressure"
	// KindUnavailable rejects a request arriving after shutdown began.
	KindUnavailable Kind = "unavailable"
)

// Envelope is one frame on the client- or server-facing channel.
type Envelope struct {
	// Sender identifies the originating connection. Assigned by the
	// receiving endpoint from its transport state; any value carried
	// on the wire is discarded, a peer cannot impersonate another.
	Sender Identity `cbor:"sender,omitempty"`

	// Kind discriminates the envelope variant.
	Kind Kind `cbor:"kind"`

	// CorrelationID binds a request to its eventual response. Broker
	// generated; zero means absent (register, heartbeat, ready,
	// backpressure, unavailable).
	CorrelationID uint64 `cbor:"correlation_id,omitempty"`

	// Payload is the opaque request or result body. The broker relays
	// it without inspection.
	Payload []byte `cbor:"payload,omitempty"`

	// Compressed marks Payload as zstd-compressed. Set by PackPayload
	// on the sending side; the broker relays the flag untouched and
	// only the final recipient decompresses.
	Compressed bool `cbor:"compressed,omitempty"`

	// Token is the execution token on request envelopes. Only
	// consulted when the broker has token validation configured.
	Token string `cbor:"token,omitempty"`

	// Reason describes a failure on failure and response envelopes
	// (a non-empty Reason on a response reports an application-level
	// worker error).
	Reason string `cbor:"reason,omitempty"`
}

// DecodeError reports a frame that could not be interpreted as an
// envelope. The receiving endpoint drops the frame and logs it; a
// malformed frame never terminates the dispatch loop.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "protocol: " + e.Reason
}

// clientKinds and workerKinds are the closed sets accepted on each
// inbound channel. Broker-produced kinds are deliberately absent: a
// peer echoing an "assign" or "response" frame back is malformed.
var (
	clientKinds = map[Kind]bool{
		KindRequest: true,
	}
	workerKinds = map[Kind]bool{
		KindRegister:  true,
		KindHeartbeat: true,
		KindReady:     true,
		KindResult:    true,
	}
)

// Encode serializes the envelope to its CBOR wire form.
func Encode(env Envelope) ([]byte, error) {
	data, err := codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode parses a raw frame into an Envelope without channel-specific
// validation. Callers on the broker's inbound channels use
// DecodeClient or DecodeWorker instead.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := codec.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("undecodable frame: %v", err)}
	}
	if env.Kind == "" {
		return Envelope{}, &DecodeError{Reason: "missing required field: kind"}
	}
	return env, nil
}

// DecodeClient parses and validates a frame from the client-facing
// channel. Only request envelopes are accepted.
func DecodeClient(raw []byte) (Envelope, error) {
	env, err := Decode(raw)
	if err != nil {
		return Envelope{}, err
	}
	if !clientKinds[env.Kind] {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("kind %q not valid on client channel", env.Kind)}
	}
	return env, nil
}

// DecodeWorker parses and validates a frame from the server-facing
// channel. Register, heartbeat, ready, and result envelopes are
// accepted; a result must carry a correlation id.
func DecodeWorker(raw []byte) (Envelope, error) {
	env, err := Decode(raw)
	if err != nil {
		return Envelope{}, err
	}
	if !workerKinds[env.Kind] {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("kind %q not valid on server channel", env.Kind)}
	}
	if env.Kind == KindResult && env.CorrelationID == 0 {
		return Envelope{}, &DecodeError{Reason: "result envelope missing correlation_id"}
	}
	return env, nil
}
