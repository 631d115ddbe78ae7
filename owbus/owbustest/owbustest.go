// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbustest simulates a 1-wire bus with devices attached to it.
//
// Net resolves time slots on a wired-AND line and implements the slot
// primitives of owbus directly. Line sits one level lower: it decodes the
// pulse widths generated by a bit-banging master against a fake clock and
// feeds the resulting slots to a Net.
package owbustest

import (
	"sync"

	"periph.io/x/conn/v3/onewire"
)

// Device is a simulated 1-wire slave.
type Device interface {
	// Reset is called on every reset pulse. It returns true if the device
	// answers with a presence pulse.
	Reset() bool
	// Drive returns the level the device wants on the line for the current
	// slot, true meaning the line is released.
	Drive() bool
	// Slot is called at the end of every slot with the resolved line level.
	Slot(level bool)
}

// Net is a set of devices sharing one line.
//
// Net implements owbus.Slots.
type Net struct {
	// Fail, when not nil, is returned by every slot primitive.
	Fail error

	mu      sync.Mutex
	devices []Device
	resets  int
	slots   int
}

// NewNet returns a Net with the given devices attached.
func NewNet(d ...Device) *Net {
	return &Net{devices: d}
}

func (n *Net) String() string {
	return "owbustest"
}

// Attach connects a device to the line.
func (n *Net) Attach(d Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices = append(n.devices, d)
}

// Detach disconnects a device from the line.
func (n *Net) Detach(d Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.devices {
		if n.devices[i] == d {
			n.devices = append(n.devices[:i], n.devices[i+1:]...)
			return
		}
	}
}

// Resets returns the number of reset pulses seen.
func (n *Net) Resets() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets
}

// Slots returns the number of bit slots seen.
func (n *Net) Slots() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slots
}

// Reset implements owbus.Slots.
func (n *Net) Reset() (bool, error) {
	if n.Fail != nil {
		return false, n.Fail
	}
	return n.ResetPulse(), nil
}

// WriteBit implements owbus.Slots.
func (n *Net) WriteBit(b bool) error {
	if n.Fail != nil {
		return n.Fail
	}
	n.Slot(b)
	return nil
}

// ReadBit implements owbus.Slots.
func (n *Net) ReadBit() (bool, error) {
	if n.Fail != nil {
		return false, n.Fail
	}
	return n.Slot(true), nil
}

// ResetPulse resets every device and returns true if any answered.
func (n *Net) ResetPulse() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets++
	present := false
	for _, d := range n.devices {
		if d.Reset() {
			present = true
		}
	}
	return present
}

// Slot runs one time slot. master is the level the master leaves on the line
// at the sampling point: true for a write-1 or read slot, false for a write-0
// slot. It returns the resolved level.
func (n *Net) Slot(master bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slots++
	level := master
	for _, d := range n.devices {
		if !d.Drive() {
			level = false
		}
	}
	for _, d := range n.devices {
		d.Slot(level)
	}
	return level
}

// MakeROM returns a ROM with a valid CRC for the family and 48-bit serial
// number.
func MakeROM(family byte, serial uint64) onewire.Address {
	var b [8]byte
	b[0] = family
	for i := 1; i < 7; i++ {
		b[i] = byte(serial >> (8 * uint(i-1)))
	}
	b[7] = onewire.CalcCRC(b[:7])
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(b[i])
	}
	return a
}

// romBit returns bit i, 0 based, of the ROM as sent on the wire.
func romBit(a onewire.Address, i int) bool {
	return (a>>uint(i))&1 != 0
}
