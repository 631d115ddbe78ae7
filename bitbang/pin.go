// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"periph.io/x/conn/v3/gpio"
)

// FromPin returns a Line backed by a periph GPIO pin.
//
// Releasing the line enables the pin's pull-up.
func FromPin(p gpio.PinIO) Line {
	return &pinLine{p: p}
}

type pinLine struct {
	p gpio.PinIO
}

func (l *pinLine) String() string {
	return l.p.String()
}

// Output is a no-op, periph switches the pin to output on Out.
func (l *pinLine) Output() error {
	return nil
}

func (l *pinLine) Input() error {
	return l.p.In(gpio.PullUp, gpio.NoEdge)
}

func (l *pinLine) Low() error {
	return l.p.Out(gpio.Low)
}

func (l *pinLine) High() error {
	return l.p.Out(gpio.High)
}

func (l *pinLine) Read() bool {
	return l.p.Read() == gpio.High
}
