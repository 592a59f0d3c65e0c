// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire envelope exchanged between
// clients, the broker, and backend workers.
//
// An envelope is a single CBOR value (see lib/codec) carrying a kind
// discriminator, an optional correlation id, and an opaque payload.
// The kind sets are closed per channel: the client-facing channel
// accepts only request envelopes, the server-facing channel accepts
// register, heartbeat, ready, and result envelopes, and anything else
// fails decoding with [DecodeError]. The broker addresses outbound
// envelopes by [Identity], the transport-assigned connection handle.
//
// Large payloads are zstd-compressed end to end by [PackPayload] and
// [UnpackPayload] in the client and worker bindings; the broker relays
// compressed bytes without ever decompressing them.
package protocol
