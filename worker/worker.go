// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rexec-foundation/rexec/lib/clock"
	"github.com/rexec-foundation/rexec/lib/codec"
	"github.com/rexec-foundation/rexec/protocol"
)

// Handler executes one assigned request and returns the result
// payload. A returned error is reported to the client as an
// application-level execution failure; it does not terminate the
// worker.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Options configure a Worker. Zero values select defaults.
type Options struct {
	// HeartbeatInterval defaults to 2 seconds. It must stay below the
	// broker's eviction threshold.
	HeartbeatInterval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Worker connects to a broker's server endpoint, registers, and
// executes assigned requests. Heartbeats continue while a request is
// executing, so a long-running execution does not get its worker
// evicted.
type Worker struct {
	address   string
	handler   Handler
	heartbeat time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a Worker serving the given handler.
func New(address string, handler Handler, opts Options) *Worker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		address:   address,
		handler:   handler,
		heartbeat: opts.HeartbeatInterval,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// completion carries a finished execution back to the write loop.
type completion struct {
	correlationID uint64
	payload       []byte
	compressed    bool
	reason        string
}

// Run connects, registers, and serves assignments until the context
// is cancelled or the connection fails. Returns nil on cancellation;
// a connection failure is returned so the caller can redial.
func (w *Worker) Run(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", w.address)
	if err != nil {
		return fmt.Errorf("dialing broker %s: %w", w.address, err)
	}
	defer conn.Close()

	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(protocol.Envelope{Kind: protocol.KindRegister}); err != nil {
		return fmt.Errorf("registering with broker: %w", err)
	}
	w.logger.Info("registered with broker", "broker", w.address)

	// Reader goroutine: the only reader of the connection. Closed
	// channel means the connection is gone.
	assignments := make(chan protocol.Envelope)
	readErr := make(chan error, 1)
	go func() {
		defer close(assignments)
		decoder := codec.NewDecoder(conn)
		for {
			var env protocol.Envelope
			if err := decoder.Decode(&env); err != nil {
				readErr <- err
				return
			}
			if env.Kind != protocol.KindAssign {
				w.logger.Warn("ignoring unexpected envelope", "kind", env.Kind)
				continue
			}
			select {
			case assignments <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := w.clock.NewTicker(w.heartbeat)
	defer ticker.Stop()

	// Executions run off the loop so heartbeats keep flowing during a
	// long handler call. The broker assigns at most one request per
	// idle cycle, so there is never more than one in flight.
	completions := make(chan completion, 1)
	executing := false

	for {
		select {
		case env, ok := <-assignments:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("broker connection lost: %w", <-readErr)
			}
			if executing {
				// Protocol violation by the broker; refuse rather
				// than silently interleave executions.
				w.logger.Error("assignment while executing, dropping",
					"correlation_id", env.CorrelationID)
				continue
			}
			executing = true
			go w.execute(ctx, env, completions)

		case done := <-completions:
			executing = false
			result := protocol.Envelope{
				Kind:          protocol.KindResult,
				CorrelationID: done.correlationID,
				Payload:       done.payload,
				Compressed:    done.compressed,
				Reason:        done.reason,
			}
			if err := encoder.Encode(result); err != nil {
				return fmt.Errorf("sending result: %w", err)
			}
			if err := encoder.Encode(protocol.Envelope{Kind: protocol.KindReady}); err != nil {
				return fmt.Errorf("sending ready: %w", err)
			}

		case <-ticker.C:
			if err := encoder.Encode(protocol.Envelope{Kind: protocol.KindHeartbeat}); err != nil {
				return fmt.Errorf("sending heartbeat: %w", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// execute runs the handler for one assignment and reports completion.
func (w *Worker) execute(ctx context.Context, env protocol.Envelope, completions chan<- completion) {
	payload, err := protocol.UnpackPayload(env.Payload, env.Compressed)
	if err != nil {
		w.logger.Error("undecodable assignment payload",
			"correlation_id", env.CorrelationID, "error", err)
		completions <- completion{correlationID: env.CorrelationID, reason: "undecodable payload"}
		return
	}

	w.logger.Debug("executing assignment",
		"correlation_id", env.CorrelationID,
		"payload_bytes", len(payload),
	)

	result, err := w.handler(ctx, payload)
	if err != nil {
		completions <- completion{correlationID: env.CorrelationID, reason: err.Error()}
		return
	}

	packed, compressed := protocol.PackPayload(result)
	completions <- completion{
		correlationID: env.CorrelationID,
		payload:       packed,
		compressed:    compressed,
	}
}
