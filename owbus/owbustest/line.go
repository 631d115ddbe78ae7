// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timing windows used to decode the master's pulses.
const (
	// ResetMin is the shortest low pulse recognized as a reset.
	ResetMin = 480 * time.Microsecond
	// SampleWindow is the point of a slot where devices sample the line. A
	// shorter low pulse is a write-1 or read slot.
	SampleWindow = 15 * time.Microsecond
	// HoldTime is how long a device keeps the line low to send a 0.
	HoldTime = 30 * time.Microsecond
	// PresenceDelay and PresenceWidth place the presence pulse after the
	// end of a reset pulse.
	PresenceDelay = 15 * time.Microsecond
	PresenceWidth = 120 * time.Microsecond
)

// Line is a simulated open drain GPIO line wired to a Net.
//
// Time only moves through Delay, which advances the fake clock. Line has the
// method set of bitbang.Line.
type Line struct {
	Net   *Net
	Clock clockwork.FakeClock

	low       bool
	fell      time.Time
	presFrom  time.Time
	presTo    time.Time
	heldUntil time.Time
}

// NewLine returns a line wired to n. A nil clock creates a fake one.
func NewLine(n *Net, clk clockwork.FakeClock) *Line {
	if clk == nil {
		clk = clockwork.NewFakeClock()
	}
	return &Line{Net: n, Clock: clk}
}

func (l *Line) String() string {
	return "owbustest.Line"
}

// Output switches the line to output mode.
func (l *Line) Output() error {
	return nil
}

// Input releases the line.
func (l *Line) Input() error {
	l.release()
	return nil
}

// Low drives the line low.
func (l *Line) Low() error {
	if !l.low {
		l.low = true
		l.fell = l.Clock.Now()
	}
	return nil
}

// High drives the line high, which devices perceive like a release.
func (l *Line) High() error {
	l.release()
	return nil
}

// Read samples the line, true meaning high.
func (l *Line) Read() bool {
	if l.low {
		return false
	}
	now := l.Clock.Now()
	if !now.Before(l.presFrom) && now.Before(l.presTo) {
		return false
	}
	return !now.Before(l.heldUntil)
}

// Delay advances the fake clock.
func (l *Line) Delay(d time.Duration) {
	l.Clock.Advance(d)
}

// release decodes the low pulse that just ended.
func (l *Line) release() {
	if !l.low {
		return
	}
	l.low = false
	now := l.Clock.Now()
	w := now.Sub(l.fell)
	switch {
	case w >= ResetMin:
		if l.Net.ResetPulse() {
			l.presFrom = now.Add(PresenceDelay)
			l.presTo = l.presFrom.Add(PresenceWidth)
		}
	case w < SampleWindow:
		if !l.Net.Slot(true) {
			l.heldUntil = l.fell.Add(HoldTime)
		}
	default:
		l.Net.Slot(false)
	}
}
