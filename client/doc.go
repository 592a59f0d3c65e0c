// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package client provides the Go bindings for submitting execution
// requests to a rexec broker.
//
// A [Client] holds one TCP connection and runs one request/response
// cycle at a time. Rejections are surfaced as distinct errors so
// callers can tell admission control ([ErrBackpressure],
// [ErrUnavailable]) apart from request failures ([RequestError]) and
// from application errors raised by the executing worker
// ([RemoteError]).
package client
