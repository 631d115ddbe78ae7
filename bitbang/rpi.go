// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package bitbang

import (
	"fmt"

	"github.com/warthog618/gpio"
)

// FromRPi returns a Line backed by a memory mapped Raspberry Pi GPIO, which
// toggles in a few tens of nanoseconds.
//
// pin is the BCM GPIO number. The GPIO memory is mapped on first use and
// stays mapped until CloseRPi is called.
func FromRPi(pin int) (Line, error) {
	if err := gpio.Open(); err != nil {
		return nil, fmt.Errorf("bitbang: mapping GPIO memory: %w", err)
	}
	p := gpio.NewPin(pin)
	p.PullUp()
	p.Input()
	return &rpiLine{p: p, n: pin}, nil
}

// CloseRPi unmaps the GPIO memory.
func CloseRPi() error {
	return gpio.Close()
}

type rpiLine struct {
	p *gpio.Pin
	n int
}

func (l *rpiLine) String() string {
	return fmt.Sprintf("GPIO%d", l.n)
}

func (l *rpiLine) Output() error {
	l.p.Output()
	return nil
}

func (l *rpiLine) Input() error {
	l.p.Input()
	return nil
}

func (l *rpiLine) Low() error {
	l.p.Low()
	return nil
}

func (l *rpiLine) High() error {
	l.p.High()
	return nil
}

func (l *rpiLine) Read() bool {
	return l.p.Read() == gpio.High
}
