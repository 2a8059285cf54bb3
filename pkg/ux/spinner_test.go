// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSpinner_NonAnimatedPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	spin := NewSpinnerWithWriter(&buf, "Analyzing photo")

	spin.Start()
	spin.Stop()

	got := buf.String()
	if got != "Analyzing photo\n" {
		t.Errorf("expected single message line, got %q", got)
	}
	if strings.Contains(got, "\033") {
		t.Error("non-animated output must not carry ANSI escapes")
	}
}

func TestSpinner_StartTwiceIsNoop(t *testing.T) {
	var buf bytes.Buffer
	spin := NewSpinnerWithWriter(&buf, "Working")

	spin.Start()
	spin.Start()
	spin.Stop()

	if count := strings.Count(buf.String(), "Working"); count != 1 {
		t.Errorf("expected the message once, got %d occurrences", count)
	}
}

func TestSpinner_StopWithoutStartIsNoop(t *testing.T) {
	spin := NewSpinnerWithWriter(&bytes.Buffer{}, "Idle")
	spin.Stop() // must not panic or block
}

func TestSpinner_UpdateMessage(t *testing.T) {
	spin := NewSpinnerWithWriter(&bytes.Buffer{}, "first")
	spin.UpdateMessage("second")
	if spin.currentMessage() != "second" {
		t.Errorf("expected updated message, got %q", spin.currentMessage())
	}
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	err := WithSpinner("Doing work", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestWithSpinner_NilOnSuccess(t *testing.T) {
	if err := WithSpinner("Doing work", func() error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
