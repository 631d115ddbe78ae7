// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbus implements a 1-wire bus master on top of the three time slots
// every 1-wire line driver provides: reset, write bit and read bit.
//
// Bytes are built from bit slots, least significant bit first. A Bus is also
// the handle that owns the ROM search state of the physical line, so any
// number of independent buses can be enumerated without cross-talk.
//
// Bus implements onewire.Bus and onewire.BusSearcher and can therefore be
// used by any periph 1-wire device driver.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/1wire-communication-through-software.html
package owbus

import (
	"log/slog"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// ROM commands, common to every 1-wire device.
const (
	SearchROM   = 0xf0 // enumerate all devices
	ReadROM     = 0x33 // read the ROM of the only device on the bus
	MatchROM    = 0x55 // address one device
	SkipROM     = 0xcc // address all devices
	AlarmSearch = 0xec // enumerate devices with an alarm condition
)

// Slots is the set of primitives a 1-wire line driver offers.
//
// Each call performs exactly one time slot and must not be interrupted: a
// slot abandoned half way desynchronizes every device until the next reset.
type Slots interface {
	String() string
	// Reset issues a reset pulse and returns true if at least one device
	// answered with a presence pulse.
	Reset() (bool, error)
	// WriteBit performs a write-1 or write-0 slot.
	WriteBit(b bool) error
	// ReadBit performs a read slot and returns the sampled level.
	ReadBit() (bool, error)
}

// ByteSlots is optionally implemented by line drivers able to shift a whole
// byte in one operation, like bridge chips. The byte is sent least
// significant bit first.
type ByteSlots interface {
	WriteByte(b byte) error
	ReadByte() (byte, error)
}

// TripletSlots is optionally implemented by line drivers performing the
// search triplet (read bit, read complement, write direction) natively.
type TripletSlots interface {
	Triplet(direction byte) (onewire.TripletResult, error)
}

// Opts contains options to pass to the constructor.
type Opts struct {
	Logger *slog.Logger // nil means slog.Default()
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{}

// New returns a Bus driving the line through s.
func New(s Slots, opts *Opts) *Bus {
	if opts == nil {
		opts = &DefaultOpts
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Bus{
		slots: s,
		log:   l.With(slog.String("source", "owbus"), slog.String("bus", s.String())),
	}
}

// Bus is a handle to one physical 1-wire line.
//
// Bus is safe for concurrent use, but a multi-call sequence (reset, address,
// command) must be issued by a single goroutine; use Tx for atomic
// transactions.
type Bus struct {
	mu     sync.Mutex
	slots  Slots
	log    *slog.Logger
	search searchState
}

func (b *Bus) String() string {
	return "OneWire{" + b.slots.String() + "}"
}

// Halt implements conn.Resource.
func (b *Bus) Halt() error {
	if r, ok := b.slots.(conn.Resource); ok {
		return r.Halt()
	}
	return nil
}

// Reset issues a reset pulse and reports whether a device answered.
func (b *Bus) Reset() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots.Reset()
}

// WriteBit performs a single write slot.
func (b *Bus) WriteBit(v bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots.WriteBit(v)
}

// ReadBit performs a single read slot.
//
// A DS18B20 converting a temperature holds the line low during read slots,
// so ReadBit right after a conversion command polls for completion.
func (b *Bus) ReadBit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots.ReadBit()
}

// WriteByte writes 8 bits, least significant bit first.
func (b *Bus) WriteByte(v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeByte(v)
}

// ReadByte reads 8 bits, least significant bit first.
func (b *Bus) ReadByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readByte()
}

// Write writes every byte of w.
func (b *Bus) Write(w []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(w)
}

// Read fills r with bytes read from the bus.
func (b *Bus) Read(r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(r)
}

// Select addresses a single device: MATCH_ROM followed by its 64-bit ROM.
//
// It must follow a Reset.
func (b *Bus) Select(addr onewire.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var w [9]byte
	w[0] = MatchROM
	putAddress(w[1:], addr)
	return b.write(w[:])
}

// Skip addresses every device on the bus at once.
//
// It must follow a Reset.
func (b *Bus) Skip() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeByte(SkipROM)
}

// ReadROM returns the ROM of the only device on the bus.
//
// If more than one device is connected the answers collide and the CRC check
// fails.
func (b *Bus) ReadROM() (onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reset(); err != nil {
		return 0, err
	}
	if err := b.writeByte(ReadROM); err != nil {
		return 0, err
	}
	var rom [8]byte
	if err := b.read(rom[:]); err != nil {
		return 0, err
	}
	if !checkROM(rom) {
		return 0, busError("owbus: incorrect ROM CRC, more than one device on the bus?")
	}
	return getAddress(rom[:]), nil
}

// Tx performs a bus transaction: reset, write w, then read len(r) bytes.
//
// Tx implements onewire.Bus. A strong pull-up is not supported by a plain
// open drain line and a weak pull-up is used instead.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if power == onewire.StrongPullup {
		b.log.Debug("strong pull-up requested, using weak pull-up")
	}
	if err := b.reset(); err != nil {
		return err
	}
	if err := b.write(w); err != nil {
		return err
	}
	return b.read(r)
}

//

// reset issues a reset and converts a missing presence pulse into an error.
func (b *Bus) reset() error {
	present, err := b.slots.Reset()
	if err != nil {
		return err
	}
	if !present {
		return noDevicesError("owbus: no device present")
	}
	return nil
}

func (b *Bus) writeByte(v byte) error {
	if s, ok := b.slots.(ByteSlots); ok {
		return s.WriteByte(v)
	}
	for i := 0; i < 8; i++ {
		if err := b.slots.WriteBit(v&1 != 0); err != nil {
			return err
		}
		v >>= 1
	}
	return nil
}

func (b *Bus) readByte() (byte, error) {
	if s, ok := b.slots.(ByteSlots); ok {
		return s.ReadByte()
	}
	var v byte
	for i := uint(0); i < 8; i++ {
		bit, err := b.slots.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			v |= 1 << i
		}
	}
	return v, nil
}

func (b *Bus) write(w []byte) error {
	for _, v := range w {
		if err := b.writeByte(v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) read(r []byte) error {
	for i := range r {
		v, err := b.readByte()
		if err != nil {
			return err
		}
		r[i] = v
	}
	return nil
}

func putAddress(b []byte, a onewire.Address) {
	_ = b[7]
	for i := 0; i < 8; i++ {
		b[i] = byte(a >> (8 * uint(i)))
	}
}

func getAddress(b []byte) onewire.Address {
	_ = b[7]
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(b[i])
	}
	return a
}

var _ conn.Resource = &Bus{}
var _ onewire.Bus = &Bus{}
var _ onewire.BusSearcher = &Bus{}
