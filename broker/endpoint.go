// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rexec-foundation/rexec/auth"
	"github.com/rexec-foundation/rexec/lib/codec"
	"github.com/rexec-foundation/rexec/protocol"
)

// sendQueueSize is the per-connection outbound buffer. A peer that
// stops reading fills its queue and further sends to it fail; the
// router then treats the peer as gone rather than blocking the
// dispatcher.
const sendQueueSize = 64

// writeTimeout bounds each outbound frame write. A connection that
// cannot accept a frame within this window is torn down.
const writeTimeout = 10 * time.Second

// Endpoint is a thin adapter between one TCP listener and the
// dispatcher. It accepts connections, assigns each a transport
// identity, decodes inbound frames into events, and delivers outbound
// envelopes addressed by identity. It holds no routing state.
type Endpoint struct {
	channel   Channel
	listener  net.Listener
	events    chan<- Event
	logger    *slog.Logger
	metrics   *Metrics
	validator *auth.Validator

	mu          sync.Mutex
	connections map[protocol.Identity]*endpointConn
	nextConnID  uint64
	closed      bool

	done chan struct{}
	wg   sync.WaitGroup
}

// endpointConn is one accepted connection with its outbound queue.
type endpointConn struct {
	identity protocol.Identity
	conn     net.Conn
	outbound chan protocol.Envelope
	closeOne sync.Once
}

// close ends the connection's outbound queue. The writer goroutine
// flushes whatever is already queued (final failure envelopes at
// shutdown, for instance) and then closes the socket, which also
// unblocks the reader.
func (c *endpointConn) close() {
	c.closeOne.Do(func() {
		close(c.outbound)
	})
}

// NewEndpoint binds a TCP listener on the given port (0 for an
// ephemeral port) and prepares it to feed events into the dispatcher.
// validator is non-nil only on the client-facing endpoint of a broker
// with token validation configured.
func NewEndpoint(channel Channel, port int, events chan<- Event, validator *auth.Validator, logger *slog.Logger, metrics *Metrics) (*Endpoint, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding %s endpoint on port %d: %w", channel, port, err)
	}
	return &Endpoint{
		channel:     channel,
		listener:    listener,
		events:      events,
		logger:      logger.With("endpoint", channel.String()),
		metrics:     metrics,
		validator:   validator,
		connections: make(map[protocol.Identity]*endpointConn),
		done:        make(chan struct{}),
	}, nil
}

// Addr returns the endpoint's bound address.
func (e *Endpoint) Addr() net.Addr {
	return e.listener.Addr()
}

// Serve accepts connections until the context is cancelled or Close is
// called.
func (e *Endpoint) Serve(ctx context.Context) {
	e.logger.Info("endpoint listening", "address", e.listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			e.listener.Close()
		case <-e.done:
		}
	}()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.logger.Error("accept failed", "error", err)
			continue
		}
		e.register(ctx, conn)
	}
}

// register assigns an identity to a new connection and starts its
// reader and writer goroutines.
func (e *Endpoint) register(ctx context.Context, conn net.Conn) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.nextConnID++
	identity := protocol.Identity(fmt.Sprintf("%s-%08x", e.channel, e.nextConnID))
	connection := &endpointConn{
		identity: identity,
		conn:     conn,
		outbound: make(chan protocol.Envelope, sendQueueSize),
	}
	e.connections[identity] = connection
	e.mu.Unlock()

	e.logger.Debug("connection accepted",
		"peer", identity,
		"remote", conn.RemoteAddr().String(),
	)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.writeLoop(connection)
	}()
	go func() {
		defer e.wg.Done()
		e.readLoop(ctx, connection)
	}()
}

// Send queues an envelope for the peer with the given identity.
// Returns false when the peer is unknown, its connection is closing,
// or its send queue is full. The frame is dropped in every failure
// case — undeliverable responses are logged by the router, never
// retried.
func (e *Endpoint) Send(to protocol.Identity, env protocol.Envelope) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	connection, ok := e.connections[to]
	if !ok {
		return false
	}

	// Non-blocking send under the map lock. The outbound channel is
	// only closed after the connection leaves the map, and removal
	// takes this lock, so the send cannot hit a closed channel.
	select {
	case connection.outbound <- env:
		return true
	default:
		e.logger.Warn("send queue full", "peer", to)
		return false
	}
}

// writeLoop serializes outbound envelopes onto the connection. It
// owns the socket's lifetime: once the outbound queue is closed and
// flushed, it closes the socket, which also unblocks the reader.
func (e *Endpoint) writeLoop(connection *endpointConn) {
	defer connection.conn.Close()

	encoder := codec.NewEncoder(connection.conn)
	for env := range connection.outbound {
		connection.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := encoder.Encode(env); err != nil {
			e.logger.Debug("write failed",
				"peer", connection.identity,
				"error", err,
			)
			connection.conn.Close()
			// Drain the queue so close() completes and the deferred
			// Close is the last touch on the socket.
			for range connection.outbound {
			}
			return
		}
	}
}

// readLoop decodes inbound frames and forwards them as events. One
// CBOR value is read per frame; a frame that decodes as CBOR but fails
// envelope validation is dropped and logged without disturbing the
// stream, while a corrupt stream tears the connection down.
func (e *Endpoint) readLoop(ctx context.Context, connection *endpointConn) {
	defer e.drop(ctx, connection)

	decoder := codec.NewDecoder(connection.conn)
	for {
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			// EOF, connection reset, or an unsynchronizable stream.
			e.logger.Debug("connection closed",
				"peer", connection.identity,
				"error", err,
			)
			return
		}

		env, err := e.decode(raw)
		if err != nil {
			e.metrics.DroppedTotal.WithLabelValues(dropCauseDecode).Inc()
			e.logger.Warn("dropping malformed frame",
				"peer", connection.identity,
				"error", err,
			)
			continue
		}
		// The transport owns the identity; whatever the peer claimed
		// is discarded.
		env.Sender = connection.identity

		if !e.authorize(ctx, connection, &env) {
			continue
		}

		select {
		case e.events <- Event{Channel: e.channel, Sender: connection.identity, Envelope: env}:
		case <-e.done:
			return
		}
	}
}

// decode applies the channel-specific envelope validation.
func (e *Endpoint) decode(raw []byte) (protocol.Envelope, error) {
	if e.channel == ClientChannel {
		return protocol.DecodeClient(raw)
	}
	return protocol.DecodeWorker(raw)
}

// authorize validates the execution token on request envelopes when
// the broker has an auth API configured. Runs on the connection's
// reader goroutine so a slow auth API never stalls the dispatcher.
// Returns false when the request was rejected and must not be
// forwarded.
func (e *Endpoint) authorize(ctx context.Context, connection *endpointConn, env *protocol.Envelope) bool {
	if e.validator == nil || env.Kind != protocol.KindRequest {
		return true
	}

	if env.Token == "" {
		e.logger.Warn("request without token", "peer", connection.identity)
		e.Send(connection.identity, protocol.Envelope{Kind: protocol.KindFailure, Reason: ReasonTokenMissing})
		return false
	}

	subject, err := e.validator.Validate(ctx, env.Token)
	if err != nil {
		e.Send(connection.identity, protocol.Envelope{Kind: protocol.KindFailure, Reason: ReasonTokenInvalid})
		return false
	}

	e.logger.Debug("token validated",
		"peer", connection.identity,
		"subject", subject,
		"token", auth.Fingerprint(env.Token),
	)
	// The token never travels past the endpoint.
	env.Token = ""
	return true
}

// drop removes a connection and notifies the dispatcher that the peer
// is gone.
func (e *Endpoint) drop(ctx context.Context, connection *endpointConn) {
	e.mu.Lock()
	_, known := e.connections[connection.identity]
	delete(e.connections, connection.identity)
	closing := e.closed
	e.mu.Unlock()

	connection.close()

	if !known || closing || ctx.Err() != nil {
		return
	}
	select {
	case e.events <- Event{Channel: e.channel, Sender: connection.identity, Gone: true}:
	case <-e.done:
	}
}

// Close stops the endpoint: no new connections, all existing
// connections torn down, all goroutines joined.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	connections := make([]*endpointConn, 0, len(e.connections))
	for _, connection := range e.connections {
		connections = append(connections, connection)
	}
	e.connections = make(map[protocol.Identity]*endpointConn)
	e.mu.Unlock()

	close(e.done)
	e.listener.Close()
	for _, connection := range connections {
		connection.close()
	}
	e.wg.Wait()
}
