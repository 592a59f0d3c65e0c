// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rexec-foundation/rexec/lib/codec"
)

// Recognized termination commands. All three verbs are equivalent;
// the set is inherited from the original deployment's tooling.
const (
	CommandTerminate = "TERMINATE"
	CommandStop      = "STOP"
	CommandQuit      = "QUIT"
)

// ControlRequest is the wire form of one control-channel request.
type ControlRequest struct {
	Command string `cbor:"command"`
}

// ControlResponse acknowledges a control request.
type ControlResponse struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// controlReadTimeout bounds how long a control connection may sit
// without sending its request.
const controlReadTimeout = 30 * time.Second

// maxControlRequestSize bounds a control request frame. Control
// requests are a single short command; anything bigger is abuse.
const maxControlRequestSize = 4 << 10

// controlServer serves the out-of-band control channel: one CBOR
// request-response cycle per connection. A recognized termination
// command is acknowledged and then handed to the dispatcher, which
// drives the router into its shutdown drain.
type controlServer struct {
	listener net.Listener
	signals  chan<- string
	logger   *slog.Logger

	active sync.WaitGroup
}

// newControlServer binds the control listener on the given port.
func newControlServer(port int, signals chan<- string, logger *slog.Logger) (*controlServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding control endpoint on port %d: %w", port, err)
	}
	return &controlServer{
		listener: listener,
		signals:  signals,
		logger:   logger.With("endpoint", "control"),
	}, nil
}

// Addr returns the control listener's bound address.
func (s *controlServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts control connections until the context is cancelled or
// the listener is closed.
func (s *controlServer) Serve(ctx context.Context) {
	s.logger.Info("endpoint listening", "address", s.listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(conn)
		}()
	}
	s.active.Wait()
}

// handle processes one control request-response cycle.
func (s *controlServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(controlReadTimeout))

	var request ControlRequest
	if err := codec.NewDecoder(io.LimitReader(conn, maxControlRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, ControlResponse{OK: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	s.logger.Info("control message received", "command", request.Command)

	switch request.Command {
	case CommandTerminate, CommandStop, CommandQuit:
	default:
		s.reply(conn, ControlResponse{OK: false, Error: fmt.Sprintf("unknown command %q", request.Command)})
		return
	}

	// Hand the signal to the dispatcher before acknowledging, so "OK"
	// means shutdown is accepted. The channel is buffered; a repeat
	// signal while one is already queued is still acknowledged.
	select {
	case s.signals <- request.Command:
	default:
	}
	s.reply(conn, ControlResponse{OK: true})
}

func (s *controlServer) reply(conn net.Conn, response ControlResponse) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write control response", "error", err)
	}
}

// Close shuts the control listener down.
func (s *controlServer) Close() {
	s.listener.Close()
	s.active.Wait()
}

// SendControl dials a broker's control endpoint and sends a command,
// returning an error unless the broker acknowledged it. Used by
// rexec-control and by deployment tooling.
func SendControl(ctx context.Context, address, command string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dialing control endpoint %s: %w", address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(ControlRequest{Command: command}); err != nil {
		return fmt.Errorf("sending control command: %w", err)
	}

	var response ControlResponse
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("reading control acknowledgment: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("control command rejected: %s", response.Error)
	}
	return nil
}
