// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the broker's Prometheus instrumentation. All series
// are registered against an explicit Registerer rather than the global
// default, so tests can run many brokers without collisions.
type Metrics struct {
	RequestsTotal     prometheus.Counter
	AssignedTotal     prometheus.Counter
	CompletedTotal    prometheus.Counter
	FailedTotal       *prometheus.CounterVec
	BackpressureTotal prometheus.Counter
	UnavailableTotal  prometheus.Counter
	EvictionsTotal    prometheus.Counter
	DroppedTotal      *prometheus.CounterVec

	WorkersIdle  prometheus.Gauge
	WorkersBusy  prometheus.Gauge
	BacklogDepth prometheus.Gauge
	PendingDepth prometheus.Gauge
}

// NewMetrics creates and registers the broker metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Client requests received, before admission control",
		}),
		AssignedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "assigned_total",
			Help:      "Requests assigned to a worker",
		}),
		CompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "completed_total",
			Help:      "Requests completed with a worker result",
		}),
		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "failed_total",
			Help:      "Requests failed back to clients, by reason",
		}, []string{"reason"}),
		BackpressureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "backpressure_total",
			Help:      "Requests rejected because the backlog was full",
		}),
		UnavailableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "unavailable_total",
			Help:      "Requests rejected after shutdown began",
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "evictions_total",
			Help:      "Workers evicted for missed heartbeats",
		}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped without a response, by cause",
		}, []string{"cause"}),
		WorkersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "workers_idle",
			Help:      "Registered workers currently idle",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "workers_busy",
			Help:      "Registered workers currently executing a request",
		}),
		BacklogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "backlog_depth",
			Help:      "Requests queued waiting for an idle worker",
		}),
		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rexec",
			Subsystem: "broker",
			Name:      "pending_depth",
			Help:      "Requests assigned and awaiting a worker result",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.AssignedTotal, m.CompletedTotal, m.FailedTotal,
		m.BackpressureTotal, m.UnavailableTotal, m.EvictionsTotal, m.DroppedTotal,
		m.WorkersIdle, m.WorkersBusy, m.BacklogDepth, m.PendingDepth,
	)
	return m
}

// Dropped-frame causes for DroppedTotal.
const (
	dropCauseDecode      = "decode"
	dropCauseUnknownID   = "unknown_correlation_id"
	dropCauseUnknownPeer = "unknown_worker"
	dropCauseUndeliver   = "undeliverable"
)
