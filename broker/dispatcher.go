// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"time"
)

// dispatch is the broker's single control loop: it multiplexes the
// two message endpoints, the control channel, and the maintenance
// ticker, and it is the only goroutine that touches the router. The
// loop's blocking wait is bounded by the tick interval, so eviction
// and expiry never run later than one tick after they become due.
//
// Returns when shutdown completes: either the drain finishes or the
// grace period elapses and the remainder is force-failed.
func (b *Broker) dispatch(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	// grace stays nil (blocks forever in select) until a shutdown
	// signal arms it.
	var grace <-chan time.Time

	for {
		select {
		case event := <-b.events:
			b.handleEvent(event)

		case command := <-b.signals:
			b.logger.Info("shutdown requested", "command", command)
			b.router.BeginShutdown()
			if grace == nil {
				grace = b.clock.After(b.cfg.Shutdown.Grace)
			}

		case <-grace:
			b.logger.Warn("shutdown grace elapsed, force-failing remainder")
			b.router.ForceFailRemaining()
			return

		case <-ticker.C:
			b.router.Tick(b.clock.Now())

		case <-ctx.Done():
			// External cancellation (signal handler in main). Same
			// path as an instantly-expired grace period.
			b.logger.Info("context cancelled, stopping dispatcher")
			b.router.BeginShutdown()
			b.router.ForceFailRemaining()
			return
		}

		if b.router.Drained() {
			b.logger.Info("drain complete")
			return
		}
	}
}

// handleEvent routes one endpoint event to the router.
func (b *Broker) handleEvent(event Event) {
	now := b.clock.Now()

	if event.Gone {
		switch event.Channel {
		case ClientChannel:
			b.router.ClientGone(event.Sender)
		case WorkerChannel:
			b.router.WorkerGone(event.Sender)
		}
		return
	}

	switch event.Channel {
	case ClientChannel:
		b.router.HandleRequest(event.Envelope, now)
	case WorkerChannel:
		b.router.HandleWorker(event.Envelope, now)
	}
}
