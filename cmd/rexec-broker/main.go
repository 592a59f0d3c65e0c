// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Rexec-broker is the rendezvous daemon between rexec clients and
// backend execution workers. It binds three TCP endpoints — the client
// port, the server (worker) port, and the control port — and routes
// requests to the longest-idle registered worker.
//
// Configuration comes from a YAML file (REXEC_CONFIG or --config) with
// the port numbers overridable by flags. A TERMINATE, STOP, or QUIT
// command on the control port triggers a graceful drain; SIGINT and
// SIGTERM stop the broker immediately. Exit status is 0 on a clean
// shutdown and non-zero on a startup failure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rexec-foundation/rexec/broker"
	"github.com/rexec-foundation/rexec/lib/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		clientPort  int
		serverPort  int
		controlPort int
		metricsPort int
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("rexec-broker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $REXEC_CONFIG)")
	flagSet.IntVar(&clientPort, "client-port", -1, "port for client connections (overrides config)")
	flagSet.IntVar(&serverPort, "server-port", -1, "port for worker connections (overrides config)")
	flagSet.IntVar(&controlPort, "control-port", -1, "port for the termination signal (overrides config)")
	flagSet.IntVar(&metricsPort, "metrics-port", -1, "port for Prometheus metrics, 0 disables (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if clientPort >= 0 {
		cfg.ClientPort = clientPort
	}
	if serverPort >= 0 {
		cfg.ServerPort = serverPort
	}
	if controlPort >= 0 {
		cfg.ControlPort = controlPort
	}
	if metricsPort >= 0 {
		cfg.MetricsPort = metricsPort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return broker.New(cfg, broker.Options{Logger: logger}).Run(ctx)
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
