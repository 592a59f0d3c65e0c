// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionThreshold is the payload size above which PackPayload
// compresses. Small payloads are sent verbatim: zstd framing overhead
// and a pointless compression pass would only add latency.
const CompressionThreshold = 4 << 10

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// PackPayload prepares a payload for the wire, compressing it when it
// exceeds CompressionThreshold and compression actually shrinks it.
// The returned flag is the value for Envelope.Compressed. The broker
// never calls this: it relays payload bytes and the flag opaquely, so
// compression is end to end between client and worker.
func PackPayload(data []byte) ([]byte, bool) {
	if len(data) <= CompressionThreshold {
		return data, false
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		// Incompressible payload (already compressed or encrypted).
		return data, false
	}
	return compressed, true
}

// UnpackPayload reverses PackPayload given the envelope's Compressed
// flag.
func UnpackPayload(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	data, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return data, nil
}
