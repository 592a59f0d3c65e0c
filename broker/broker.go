// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rexec-foundation/rexec/auth"
	"github.com/rexec-foundation/rexec/lib/clock"
	"github.com/rexec-foundation/rexec/lib/config"
	"github.com/rexec-foundation/rexec/protocol"
)

// eventQueueSize buffers inbound events between the endpoint reader
// goroutines and the dispatcher. The buffer absorbs bursts; sustained
// overload blocks readers, which is the intended backpressure onto
// the sockets.
const eventQueueSize = 256

// Options are the injectable collaborators of a Broker. Zero values
// select production defaults.
type Options struct {
	// Clock defaults to clock.Real(). Tests inject clock.Fake.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to a fresh prometheus registry. Tests pass
	// their own to inspect series.
	Metrics *prometheus.Registry
}

// Broker is the rendezvous service between clients and backend
// workers: three TCP endpoints multiplexed by a single dispatcher
// goroutine that owns all routing state.
type Broker struct {
	cfg      config.Config
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
	gatherer *prometheus.Registry

	router         *Router
	clientEndpoint *Endpoint
	workerEndpoint *Endpoint
	control        *controlServer

	events  chan Event
	signals chan string

	ready chan struct{}

	mu             sync.Mutex
	clientAddress  string
	workerAddress  string
	controlAddress string
}

// New creates a Broker from a validated configuration. Listeners are
// not bound until Run.
func New(cfg config.Config, opts Options) *Broker {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = prometheus.NewRegistry()
	}

	return &Broker{
		cfg:      cfg,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  NewMetrics(opts.Metrics),
		gatherer: opts.Metrics,
		events:   make(chan Event, eventQueueSize),
		signals:  make(chan string, 1),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once all listeners are bound and their addresses
// are available. Tests wait on it before dialing.
func (b *Broker) Ready() <-chan struct{} { return b.ready }

// ClientAddress returns the bound client endpoint address. Valid after
// Ready.
func (b *Broker) ClientAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clientAddress
}

// WorkerAddress returns the bound server endpoint address. Valid after
// Ready.
func (b *Broker) WorkerAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workerAddress
}

// ControlAddress returns the bound control endpoint address. Valid
// after Ready.
func (b *Broker) ControlAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controlAddress
}

// Run binds the three endpoints (plus the optional metrics listener),
// runs the dispatcher until shutdown, and tears everything down.
// Returns nil on a clean control-signal shutdown or context
// cancellation; a bind failure is returned as the fatal startup error.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var validator *auth.Validator
	if b.cfg.Auth.APIURL != "" {
		validator = auth.NewValidator(b.cfg.Auth.APIURL, b.cfg.Auth.Timeout, b.logger)
		b.logger.Info("token validation enabled", "api_url", b.cfg.Auth.APIURL)
	}

	b.router = NewRouter(RouterConfig{
		EvictionThreshold: b.cfg.Heartbeat.EvictionThreshold,
		RequestExpiry:     b.cfg.Request.Expiry,
		BacklogCapacity:   b.cfg.Request.BacklogCapacity,
	}, senderFunc(b.sendToClient), senderFunc(b.sendToWorker), b.logger, b.metrics)

	clientEndpoint, err := NewEndpoint(ClientChannel, b.cfg.ClientPort, b.events, validator, b.logger, b.metrics)
	if err != nil {
		return err
	}
	b.clientEndpoint = clientEndpoint

	workerEndpoint, err := NewEndpoint(WorkerChannel, b.cfg.ServerPort, b.events, nil, b.logger, b.metrics)
	if err != nil {
		clientEndpoint.Close()
		return err
	}
	b.workerEndpoint = workerEndpoint

	control, err := newControlServer(b.cfg.ControlPort, b.signals, b.logger)
	if err != nil {
		clientEndpoint.Close()
		workerEndpoint.Close()
		return err
	}
	b.control = control

	var metricsServer *http.Server
	var metricsListener net.Listener
	if b.cfg.MetricsPort > 0 {
		metricsListener, err = net.Listen("tcp", fmt.Sprintf(":%d", b.cfg.MetricsPort))
		if err != nil {
			clientEndpoint.Close()
			workerEndpoint.Close()
			control.Close()
			return fmt.Errorf("binding metrics endpoint on port %d: %w", b.cfg.MetricsPort, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}

	b.mu.Lock()
	b.clientAddress = clientEndpoint.Addr().String()
	b.workerAddress = workerEndpoint.Addr().String()
	b.controlAddress = control.Addr().String()
	b.mu.Unlock()
	close(b.ready)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var serving sync.WaitGroup
	serve := func(run func()) {
		serving.Add(1)
		go func() {
			defer serving.Done()
			run()
		}()
	}
	serve(func() { clientEndpoint.Serve(serveCtx) })
	serve(func() { workerEndpoint.Serve(serveCtx) })
	serve(func() { control.Serve(serveCtx) })
	if metricsServer != nil {
		serve(func() {
			if err := metricsServer.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
				b.logger.Error("metrics server failed", "error", err)
			}
		})
	}

	b.logger.Info("broker started",
		"client", b.clientAddress,
		"server", b.workerAddress,
		"control", b.controlAddress,
	)

	b.dispatch(serveCtx)

	cancel()
	clientEndpoint.Close()
	workerEndpoint.Close()
	control.Close()
	if metricsServer != nil {
		metricsServer.Close()
	}
	serving.Wait()

	b.logger.Info("broker stopped")
	return nil
}

// senderFunc adapts a function to the Sender interface.
type senderFunc func(to protocol.Identity, env protocol.Envelope) bool

func (f senderFunc) Send(to protocol.Identity, env protocol.Envelope) bool { return f(to, env) }

func (b *Broker) sendToClient(to protocol.Identity, env protocol.Envelope) bool {
	return b.clientEndpoint.Send(to, env)
}

func (b *Broker) sendToWorker(to protocol.Identity, env protocol.Envelope) bool {
	return b.workerEndpoint.Send(to, env)
}
