// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the broker's standard CBOR encoding
// configuration.
//
// Every frame on the client, server, and control channels is a single
// CBOR value. CBOR is self-delimiting, so no length-prefix framing
// protocol is needed on top of the TCP stream: an endpoint reads one
// value per frame with a streaming Decoder and writes one value per
// frame with a streaming Encoder.
//
// This package provides the shared encoding and decoding modes so that
// every package encodes identically without duplicating configuration.
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
