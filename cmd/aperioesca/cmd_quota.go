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

// quotaCmd shows the local daily allowance.
//
// The local counter is advisory; when the app runs through the relay, the
// server-side per-device limit is authoritative and may be lower.
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's analysis allowance",
	Args:  cobra.NoArgs,
	RunE:  runQuotaCommand,
}

func runQuotaCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.quota.Initialize(); err != nil {
		return err
	}
	info, err := a.quota.Info()
	if err != nil {
		return err
	}

	fmt.Printf("Daily limit:   %d\n", info.DailyLimit)
	fmt.Printf("Used:          %d\n", info.Used)
	fmt.Printf("Remaining:     %d\n", info.Remaining)
	fmt.Printf("Retry budget:  %d of %d used\n", info.RetryBudgetUsed, info.RetryBudget)
	fmt.Printf("Resets:        %s\n", info.ResetAt.Format(time.RFC1123))
	return nil
}
