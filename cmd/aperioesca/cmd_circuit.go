// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// circuitCmd shows the persisted circuit breaker state.
var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Show the AI service circuit breaker state",
	Args:  cobra.NoArgs,
	RunE:  runCircuitCommand,
}

// circuitResetCmd force-closes the breaker. Meant for development; in
// normal operation the breaker recovers on its own after the timeout.
var circuitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Force the circuit breaker closed",
	Args:  cobra.NoArgs,
	RunE:  runCircuitResetCommand,
}

func runCircuitCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.circuit.Initialize(); err != nil {
		return err
	}
	snap := a.circuit.Snapshot()

	fmt.Printf("State:     %s\n", snap.State)
	fmt.Printf("Failures:  %d\n", snap.FailureCount)
	fmt.Printf("Successes: %d\n", snap.SuccessCount)
	if snap.LastFailureTime != nil {
		fmt.Printf("Last fail: %s\n", snap.LastFailureTime.Format(time.RFC1123))
	}
	if wait, ok := a.circuit.TimeUntilRetry(); ok {
		fmt.Printf("Retry in:  %s\n", wait.Round(time.Second))
	}
	return nil
}

func runCircuitResetCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.circuit.Reset(); err != nil {
		return err
	}
	fmt.Println("Circuit breaker reset to CLOSED.")
	return nil
}
