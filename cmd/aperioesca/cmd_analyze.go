// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aperioesca/aperioesca/pkg/ux"
	"github.com/aperioesca/aperioesca/services/analysis"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	analyzeSave bool // Persist the result as a meal entry
	analyzeJSON bool // Output the raw result JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// analyzeCmd classifies a single photo.
//
// # Examples
//
//	aperioesca analyze lunch.jpg             # Classify and print
//	aperioesca analyze lunch.jpg --save      # Also store as a meal entry
//	aperioesca analyze lunch.jpg --json      # Machine-readable output
var analyzeCmd = &cobra.Command{
	Use:   "analyze <photo>",
	Short: "Classify a meal photo",
	Long: `Runs the two-tier analysis on a photo: a cheap "is this food?"
check first, then the detailed classification. Each run spends one unit
of the daily analysis allowance.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzeCommand,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false,
		"Save the result as a meal entry (moves the photo into the data dir)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false,
		"Print the raw result JSON for scripting")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	payload, err := analysis.LoadPhoto(args[0])
	if err != nil {
		return renderFailure(err)
	}

	var result *analysis.Result
	err = ux.WithSpinner("Analyzing photo...", func() error {
		var err error
		result, err = a.orch.Analyze(cmd.Context(), payload)
		return err
	})
	if err != nil {
		return renderFailure(err)
	}

	if analyzeJSON {
		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	} else {
		printResult(result)
	}

	if analyzeSave {
		entry, err := a.meals.Save(result, args[0])
		if err != nil {
			return fmt.Errorf("save meal: %w", err)
		}
		fmt.Printf("\nSaved as meal %s\n", entry.ID)
	}

	if info, err := a.quota.Info(); err == nil {
		fmt.Printf("\n%d of %d analyses left today\n", info.Remaining, info.DailyLimit)
	}
	return nil
}

// printResult renders the human-readable classification.
func printResult(result *analysis.Result) {
	fmt.Printf("Meal:       %s\n", result.MealType)
	fmt.Printf("Energy:     %s\n", result.EnergyBand)
	fmt.Printf("Confidence: %s\n", result.Confidence)
	fmt.Printf("Reasoning:  %s\n", result.Reasoning)
	if result.Insight != "" {
		fmt.Printf("Insight:    %s\n", result.Insight)
	}
	var flags []string
	if result.Flags.MixedPlate {
		flags = append(flags, "mixed plate")
	}
	if result.Flags.UnclearPortions {
		flags = append(flags, "unclear portions")
	}
	if result.Flags.SharedDish {
		flags = append(flags, "shared dish")
	}
	for _, f := range flags {
		fmt.Printf("Flag:       %s\n", f)
	}
}

// renderFailure prints the user-facing message for a classified error and
// keeps the technical detail on stderr via the exit error.
func renderFailure(err error) error {
	var classified *analysis.Error
	if errors.As(err, &classified) {
		fmt.Fprintln(os.Stderr, classified.UserMessage())
		if action := classified.SuggestedAction(); action != "" {
			fmt.Fprintln(os.Stderr, action)
		}
	}
	return err
}
