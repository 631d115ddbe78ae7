// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbang drives a 1-wire bus from a single open drain GPIO line.
//
// The line is pulled up externally (4.7kΩ) or by the pin's internal pull-up.
// Every time slot is generated in software with busy waits, so the calling
// goroutine is locked to its OS thread for the duration of each slot. A
// preempted slot is a protocol violation the devices cannot recover from
// until the next reset.
//
// # Datasheet
//
// https://www.analog.com/en/technical-articles/1wire-communication-through-software.html
package bitbang

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"periph.io/x/host/v3/cpu"
)

// Line is a GPIO line able to switch between driving the bus low and
// releasing it.
//
// The bus is open drain: Driver only ever drives it low and releases it with
// Input, leaving the pull-up resistor to raise it. High is never called by
// Driver; it is part of the line contract for callers holding the line high
// outside of a time slot.
type Line interface {
	String() string
	// Output switches the line to output mode.
	Output() error
	// Input switches the line to input mode, releasing the bus.
	Input() error
	// Low drives the line low.
	Low() error
	// High drives the line high.
	High() error
	// Read returns true if the line is high.
	Read() bool
}

// Opts contains the slot timing and other options.
//
// The defaults follow the recommended values of Maxim application note 126.
type Opts struct {
	ResetLow       time.Duration // reset pulse width
	PresenceWait   time.Duration // release to presence sample
	ResetRecovery  time.Duration // remainder of the presence window
	Write1Low      time.Duration
	Write1Recovery time.Duration
	Write0Low      time.Duration
	Write0Recovery time.Duration
	ReadLow        time.Duration
	ReadSample     time.Duration // release to sample
	ReadRecovery   time.Duration

	// Delay waits for the given duration without yielding the thread. nil
	// means cpu.Nanospin.
	Delay func(time.Duration)
	// Logger receives diagnostics. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ResetLow:       480 * time.Microsecond,
	PresenceWait:   70 * time.Microsecond,
	ResetRecovery:  410 * time.Microsecond,
	Write1Low:      10 * time.Microsecond,
	Write1Recovery: 50 * time.Microsecond,
	Write0Low:      65 * time.Microsecond,
	Write0Recovery: 5 * time.Microsecond,
	ReadLow:        3 * time.Microsecond,
	ReadSample:     5 * time.Microsecond,
	ReadRecovery:   50 * time.Microsecond,
}

// New returns a Driver generating 1-wire time slots on l.
func New(l Line, opts *Opts) (*Driver, error) {
	if l == nil {
		return nil, errors.New("bitbang: line is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	d := &Driver{line: l, opts: *opts}
	if d.opts.Delay == nil {
		d.opts.Delay = cpu.Nanospin
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	d.log = lg.With(slog.String("source", "bitbang"), slog.String("line", l.String()))
	if err := l.Input(); err != nil {
		return nil, fmt.Errorf("bitbang: releasing %s: %w", l, err)
	}
	return d, nil
}

// NewBus returns a 1-wire bus master driving l.
func NewBus(l Line, opts *Opts) (*owbus.Bus, error) {
	d, err := New(l, opts)
	if err != nil {
		return nil, err
	}
	var bo owbus.Opts
	if opts != nil {
		bo.Logger = opts.Logger
	}
	return owbus.New(d, &bo), nil
}

// Driver generates reset, write and read slots on a Line.
//
// Driver implements owbus.Slots. It is not safe for concurrent use, wrap it
// in an owbus.Bus.
type Driver struct {
	line Line
	opts Opts
	log  *slog.Logger
}

func (d *Driver) String() string {
	return "bitbang(" + d.line.String() + ")"
}

// Halt releases the line.
func (d *Driver) Halt() error {
	return d.line.Input()
}

// Reset sends a reset pulse and returns true if a device answered with a
// presence pulse.
func (d *Driver) Reset() (bool, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := d.pulse(d.opts.ResetLow); err != nil {
		return false, err
	}
	d.opts.Delay(d.opts.PresenceWait)
	present := !d.line.Read()
	d.opts.Delay(d.opts.ResetRecovery)
	d.log.Debug("reset", slog.Bool("present", present))
	return present, nil
}

// WriteBit sends a write-1 or write-0 slot.
func (d *Driver) WriteBit(b bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if b {
		if err := d.pulse(d.opts.Write1Low); err != nil {
			return err
		}
		d.opts.Delay(d.opts.Write1Recovery)
		return nil
	}
	if err := d.pulse(d.opts.Write0Low); err != nil {
		return err
	}
	d.opts.Delay(d.opts.Write0Recovery)
	return nil
}

// ReadBit sends a read slot and returns the level sampled.
func (d *Driver) ReadBit() (bool, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := d.pulse(d.opts.ReadLow); err != nil {
		return false, err
	}
	d.opts.Delay(d.opts.ReadSample)
	b := d.line.Read()
	d.opts.Delay(d.opts.ReadRecovery)
	return b, nil
}

//

// pulse drives the line low for w then releases it.
func (d *Driver) pulse(w time.Duration) error {
	if err := d.line.Output(); err != nil {
		return fmt.Errorf("bitbang: %s: %w", d.line, err)
	}
	if err := d.line.Low(); err != nil {
		return fmt.Errorf("bitbang: %s: %w", d.line, err)
	}
	d.opts.Delay(w)
	if err := d.line.Input(); err != nil {
		return fmt.Errorf("bitbang: %s: %w", d.line, err)
	}
	return nil
}

func (o *Opts) validate() error {
	if o.ResetLow < 480*time.Microsecond {
		return fmt.Errorf("bitbang: reset pulse %s is shorter than 480µs", o.ResetLow)
	}
	if o.PresenceWait <= 0 || o.PresenceWait > 75*time.Microsecond {
		return fmt.Errorf("bitbang: presence sample at %s is outside (0, 75µs]", o.PresenceWait)
	}
	if o.Write1Low <= 0 || o.Write1Low >= 15*time.Microsecond {
		return fmt.Errorf("bitbang: write-1 pulse %s is outside (0, 15µs)", o.Write1Low)
	}
	if o.Write0Low < 60*time.Microsecond || o.Write0Low > 120*time.Microsecond {
		return fmt.Errorf("bitbang: write-0 pulse %s is outside [60µs, 120µs]", o.Write0Low)
	}
	if o.ReadLow <= 0 || o.ReadLow+o.ReadSample >= 15*time.Microsecond {
		return fmt.Errorf("bitbang: read sample at %s is outside (0, 15µs)", o.ReadLow+o.ReadSample)
	}
	if o.Write1Recovery < 0 || o.Write0Recovery <= 0 || o.ReadRecovery < 0 || o.ResetRecovery < 0 {
		return errors.New("bitbang: recovery times must not be negative")
	}
	return nil
}

var _ owbus.Slots = &Driver{}
