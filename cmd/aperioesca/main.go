// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The aperioesca CLI exercises the meal-analysis pipeline from a
// terminal: photo in, classification out, with the same quota, circuit
// breaker, and retry behavior the mobile app carries.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aperioesca",
	Short: "Classify meal photos with the Aperioesca analysis pipeline",
	Long: `Aperioesca turns a meal photo into a coarse classification:
meal type, energy band, and a short insight. No calorie counts, no
food diary guilt loops.

State (quota, circuit breaker, saved meals) lives under
~/.aperioesca or $APERIOESCA_DATA_DIR.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(circuitCmd)
	circuitCmd.AddCommand(circuitResetCmd)
	rootCmd.AddCommand(mealsCmd)
	mealsCmd.AddCommand(mealsListCmd)
	mealsCmd.AddCommand(mealsShowCmd)
	mealsCmd.AddCommand(mealsFeedbackCmd)
	mealsCmd.AddCommand(mealsDeleteCmd)
	mealsCmd.AddCommand(mealsClearCmd)
}
