// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the rexec
// broker.
//
// Configuration is loaded from a single file specified by either the
// REXEC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides. Command-line flags may
// override individual port numbers on top of the loaded file.
//
// Key exports:
//
//   - [Config] -- the full broker configuration surface
//   - [Default] -- development defaults (historical port numbers)
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other rexec packages.
package config
