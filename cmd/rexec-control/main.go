// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

// Rexec-control sends a command to a running broker's control
// endpoint. Its main use is triggering a graceful shutdown from
// deployment tooling:
//
//	rexec-control --address broker.internal:5561 TERMINATE
//
// The command defaults to TERMINATE. Exits 0 once the broker
// acknowledges, non-zero otherwise.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rexec-foundation/rexec/broker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		address string
		timeout time.Duration
	)

	flagSet := pflag.NewFlagSet("rexec-control", pflag.ContinueOnError)
	flagSet.StringVar(&address, "address", "localhost:5561", "broker control endpoint")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "time to wait for the acknowledgment")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	command := broker.CommandTerminate
	if args := flagSet.Args(); len(args) > 0 {
		command = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := broker.SendControl(ctx, address, command); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}
