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

	"github.com/aperioesca/aperioesca/services/meals"
)

var mealsCmd = &cobra.Command{
	Use:   "meals",
	Short: "Manage stored meal entries",
}

var mealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored meals, newest first",
	Args:  cobra.NoArgs,
	RunE:  runMealsListCommand,
}

var mealsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one meal entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runMealsShowCommand,
}

// mealsFeedbackCmd attaches the user's verdict to a frozen entry.
// Feedback is the only field that can change after analysis.
var mealsFeedbackCmd = &cobra.Command{
	Use:   "feedback <id> <too_light|accurate|too_heavy>",
	Short: "Record whether a classification felt right",
	Args:  cobra.ExactArgs(2),
	RunE:  runMealsFeedbackCommand,
}

var mealsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a meal entry and its photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runMealsDeleteCommand,
}

var mealsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all meal entries and photos",
	Args:  cobra.NoArgs,
	RunE:  runMealsClearCommand,
}

func runMealsListCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.meals.All()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No meals stored yet.")
		return nil
	}
	for _, entry := range entries {
		feedback := ""
		if entry.UserFeedback != "" {
			feedback = "  (" + string(entry.UserFeedback) + ")"
		}
		fmt.Printf("%s  %s  %-9s %-10s%s\n",
			entry.ID,
			entry.CreatedAt.Format("2006-01-02 15:04"),
			entry.MealType,
			entry.EnergyBand,
			feedback)
	}
	return nil
}

func runMealsShowCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entry, err := a.meals.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("ID:         %s\n", entry.ID)
	fmt.Printf("Logged:     %s\n", entry.CreatedAt.Format(time.RFC1123))
	fmt.Printf("Photo:      %s\n", entry.PhotoPath)
	fmt.Printf("Meal:       %s\n", entry.MealType)
	fmt.Printf("Energy:     %s\n", entry.EnergyBand)
	fmt.Printf("Confidence: %s\n", entry.Confidence)
	fmt.Printf("Reasoning:  %s\n", entry.Reasoning)
	if entry.Insight != "" {
		fmt.Printf("Insight:    %s\n", entry.Insight)
	}
	if entry.UserFeedback != "" {
		fmt.Printf("Feedback:   %s\n", entry.UserFeedback)
	}
	return nil
}

func runMealsFeedbackCommand(cmd *cobra.Command, args []string) error {
	feedback := meals.Feedback(args[1])
	switch feedback {
	case meals.FeedbackTooLight, meals.FeedbackAccurate, meals.FeedbackTooHeavy:
	default:
		return fmt.Errorf("feedback must be too_light, accurate, or too_heavy, got %q", args[1])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.meals.RecordFeedback(args[0], feedback); err != nil {
		return err
	}
	fmt.Println("Feedback recorded.")
	return nil
}

func runMealsDeleteCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.meals.Delete(args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted.")
	return nil
}

func runMealsClearCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.meals.Clear(); err != nil {
		return err
	}
	fmt.Println("All meals deleted.")
	return nil
}
