// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rexec-foundation/rexec/lib/codec"
	"github.com/rexec-foundation/rexec/protocol"
)

// ErrBackpressure reports that the broker's backlog was full and the
// request was rejected without being queued. The client may retry
// after backing off.
var ErrBackpressure = errors.New("client: broker backlog full")

// ErrUnavailable reports that the broker is shutting down and no
// longer admits requests.
var ErrUnavailable = errors.New("client: broker unavailable")

// RequestError is a broker-side failure of a specific request: the
// assigned worker died, the request expired, shutdown force-failed it,
// or token validation rejected it.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "client: request failed: " + e.Reason
}

// RemoteError is an application-level error reported by the worker
// that executed the request. The broker delivered the response; the
// execution itself failed.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return "client: remote execution failed: " + e.Reason
}

// Client submits execution requests to a broker over one TCP
// connection. A Client is not safe for concurrent use: it supports one
// in-flight request at a time, matching the request/response cycle of
// the wire protocol. Open one Client per concurrent request stream.
type Client struct {
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	token   string
}

// Option configures a Client at dial time.
type Option func(*Client)

// WithToken attaches an execution token to every request. Required
// when the broker has token validation configured.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Dial connects to a broker's client endpoint.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing broker %s: %w", address, err)
	}
	c := &Client{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do submits one request and blocks until its response, failure, or
// rejection arrives. Large payloads are transparently compressed for
// the wire and responses transparently decompressed.
//
// The context deadline, if any, bounds the whole round trip.
func (c *Client) Do(ctx context.Context, payload []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	packed, compressed := protocol.PackPayload(payload)
	request := protocol.Envelope{
		Kind:       protocol.KindRequest,
		Payload:    packed,
		Compressed: compressed,
		Token:      c.token,
	}
	if err := c.encoder.Encode(request); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var response protocol.Envelope
	if err := c.decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch response.Kind {
	case protocol.KindResponse:
		if response.Reason != "" {
			return nil, &RemoteError{Reason: response.Reason}
		}
		result, err := protocol.UnpackPayload(response.Payload, response.Compressed)
		if err != nil {
			return nil, fmt.Errorf("unpacking response: %w", err)
		}
		return result, nil
	case protocol.KindFailure:
		return nil, &RequestError{Reason: response.Reason}
	case protocol.KindBackpressure:
		return nil, ErrBackpressure
	case protocol.KindUnavailable:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unexpected %s envelope from broker", response.Kind)
	}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
