// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/rexec-foundation/rexec/lib/codec"
	"github.com/rexec-foundation/rexec/protocol"
)

// brokerStub plays the broker's side of the server channel for one
// worker connection.
type brokerStub struct {
	listener net.Listener
	conn     net.Conn
	encoder  *codec.Encoder
	decoder  *codec.Decoder
}

func newBrokerStub(t *testing.T) *brokerStub {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return &brokerStub{listener: listener}
}

func (s *brokerStub) address() string {
	return s.listener.Addr().String()
}

// accept waits for the worker to connect.
func (s *brokerStub) accept(t *testing.T) {
	t.Helper()
	s.listener.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	conn, err := s.listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	s.encoder = codec.NewEncoder(conn)
	s.decoder = codec.NewDecoder(conn)
}

func (s *brokerStub) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	if err := s.encoder.Encode(env); err != nil {
		t.Fatalf("stub send: %v", err)
	}
}

func (s *brokerStub) receive(t *testing.T) protocol.Envelope {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env protocol.Envelope
	if err := s.decoder.Decode(&env); err != nil {
		t.Fatalf("stub receive: %v", err)
	}
	return env
}

// receiveKind reads envelopes until one of the wanted kind arrives,
// skipping heartbeats that interleave with the handshake.
func (s *brokerStub) receiveKind(t *testing.T, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	for {
		env := s.receive(t)
		if env.Kind == kind {
			return env
		}
		if env.Kind != protocol.KindHeartbeat {
			t.Fatalf("received %s while waiting for %s", env.Kind, kind)
		}
	}
}

func startWorker(t *testing.T, address string, handler Handler) context.CancelFunc {
	t.Helper()
	w := New(address, handler, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return cancel
}

func TestWorkerRegistersOnConnect(t *testing.T) {
	stub := newBrokerStub(t)
	startWorker(t, stub.address(), func(_ context.Context, p []byte) ([]byte, error) {
		return p, nil
	})
	stub.accept(t)

	if env := stub.receive(t); env.Kind != protocol.KindRegister {
		t.Errorf("first envelope = %s, want register", env.Kind)
	}
}

func TestWorkerExecutesAssignment(t *testing.T) {
	stub := newBrokerStub(t)
	startWorker(t, stub.address(), func(_ context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})
	stub.accept(t)
	stub.receiveKind(t, protocol.KindRegister)

	stub.send(t, protocol.Envelope{
		Kind:          protocol.KindAssign,
		CorrelationID: 7,
		Payload:       []byte("job"),
	})

	result := stub.receiveKind(t, protocol.KindResult)
	if result.CorrelationID != 7 {
		t.Errorf("correlation id = %d, want 7", result.CorrelationID)
	}
	if result.Reason != "" {
		t.Errorf("reason = %q, want empty", result.Reason)
	}
	payload, err := protocol.UnpackPayload(result.Payload, result.Compressed)
	if err != nil {
		t.Fatalf("UnpackPayload: %v", err)
	}
	if !bytes.Equal(payload, []byte("echo:job")) {
		t.Errorf("payload = %q, want echo:job", payload)
	}

	// The result is followed by a ready, returning the worker to the
	// idle pool.
	stub.receiveKind(t, protocol.KindReady)
}

func TestWorkerReportsHandlerError(t *testing.T) {
	stub := newBrokerStub(t)
	startWorker(t, stub.address(), func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, errors.New("cannot comply")
	})
	stub.accept(t)
	stub.receiveKind(t, protocol.KindRegister)

	stub.send(t, protocol.Envelope{Kind: protocol.KindAssign, CorrelationID: 3})

	result := stub.receiveKind(t, protocol.KindResult)
	if result.Reason != "cannot comply" {
		t.Errorf("reason = %q, want the handler's error text", result.Reason)
	}
	if len(result.Payload) != 0 {
		t.Errorf("failed execution carried payload %q", result.Payload)
	}
}

func TestWorkerHeartbeatsDuringExecution(t *testing.T) {
	stub := newBrokerStub(t)
	release := make(chan struct{})
	startWorker(t, stub.address(), func(_ context.Context, p []byte) ([]byte, error) {
		<-release
		return p, nil
	})
	stub.accept(t)
	stub.receiveKind(t, protocol.KindRegister)

	stub.send(t, protocol.Envelope{Kind: protocol.KindAssign, CorrelationID: 1})

	// With the handler blocked, heartbeats must keep arriving.
	heartbeats := 0
	for heartbeats < 3 {
		if env := stub.receive(t); env.Kind == protocol.KindHeartbeat {
			heartbeats++
		}
	}

	close(release)
	stub.receiveKind(t, protocol.KindResult)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	stub := newBrokerStub(t)
	w := New(stub.address(), func(_ context.Context, p []byte) ([]byte, error) {
		return p, nil
	}, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	stub.accept(t)
	stub.receiveKind(t, protocol.KindRegister)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}

func TestWorkerReturnsErrorOnConnectionLoss(t *testing.T) {
	stub := newBrokerStub(t)
	w := New(stub.address(), func(_ context.Context, p []byte) ([]byte, error) {
		return p, nil
	}, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	stub.accept(t)
	stub.receiveKind(t, protocol.KindRegister)

	stub.conn.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run = nil after the broker hung up, want error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not notice the lost connection")
	}
}
