// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth validates execution tokens against an external auth
// API.
//
// Validation is optional: a broker with no auth API configured admits
// every request. When configured, the client-facing endpoint validates
// each request's token before it reaches the router, on the
// connection's reader goroutine — never on the dispatcher thread,
// which must not block on network I/O.
package auth
