// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal feedback for the CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an animated wait indicator for slow operations, mainly the
// upstream analysis call. On a non-TTY (piped or scripted output) it prints
// the message once and stays silent, so logs do not fill with frames.
type Spinner struct {
	out     io.Writer
	animate bool
	stop    chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	message    string
	running    bool
	frameIndex int
}

// NewSpinner creates a spinner writing to stderr, animated only when stderr
// is a terminal.
func NewSpinner(message string) *Spinner {
	return newSpinner(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()), message)
}

// NewSpinnerWithWriter creates a non-animated spinner for tests and captured
// output.
func NewSpinnerWithWriter(out io.Writer, message string) *Spinner {
	return newSpinner(out, false, message)
}

func newSpinner(out io.Writer, animate bool, message string) *Spinner {
	return &Spinner{
		out:     out,
		animate: animate,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. Safe to call once per spinner.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if !s.animate {
		fmt.Fprintf(s.out, "%s\n", s.currentMessage())
		return
	}

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				// Clear the spinner line
				fmt.Fprint(s.out, "\r\033[K")
				close(s.done)
				return
			case <-ticker.C:
				frame := spinnerFrames[s.frameIndex]
				fmt.Fprintf(s.out, "\r%s %s", frame, s.currentMessage())
				s.frameIndex = (s.frameIndex + 1) % len(spinnerFrames)
			}
		}
	}()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if !s.animate {
		return
	}
	close(s.stop)
	<-s.done
}

// UpdateMessage changes the message while the spinner runs.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) currentMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// WithSpinner runs fn behind a spinner and stops it whether or not fn fails.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()
	defer spin.Stop()
	return fn()
}
