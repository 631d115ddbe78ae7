// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds248x

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/onewire"
)

// PupOhm controls the strength of the passive pull-up resistor
// on the 1-wire data line. The default value is 1000Ω.
type PupOhm uint8

const (
	// R500Ω passive pull-up resistor.
	R500Ω = 4
	// R1000Ω passive pull-up resistor.
	R1000Ω = 6
)

// Opts contains options to pass to the constructor.
type Opts struct {
	PassivePullup bool // false:use active pull-up, true: disable active pullup

	// The following options are only available on the ds2483 (not ds2482-100).
	// The actual value used is the closest possible value (rounded up or down).
	ResetLow       time.Duration // reset low time, range 440μs..740μs
	PresenceDetect time.Duration // presence detect sample time, range 58μs..76μs
	Write0Low      time.Duration // write zero low time, range 52μs..70μs
	Write0Recovery time.Duration // write zero recovery time, range 2750ns..25250ns
	PullupRes      PupOhm        // passive pull-up resistance, true: 500Ω, false: 1kΩ

	Logger *slog.Logger // nil means slog.Default()
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	PassivePullup:  false,
	ResetLow:       560 * time.Microsecond,
	PresenceDetect: 68 * time.Microsecond,
	Write0Low:      64 * time.Microsecond,
	Write0Recovery: 5250 * time.Nanosecond,
	PullupRes:      R1000Ω,
}

// New returns a device object that communicates over I²C to the DS2482/DS2483
// controller.
//
// Dev provides the 1-wire slot primitives; wrap it with owbus.New, or use
// NewBus, to get a onewire.Bus.
//
// Valid I²C addresses are 0x18, 0x19, 0x20 and 0x21.
func New(i i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case 0x18, 0x19, 0x20, 0x21:
	default:
		return nil, errors.New("ds248x: given address not supported by device")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{i2c: &i2c.Dev{Bus: i, Addr: addr}}
	if err := d.makeDev(opts); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	d.log = l.With(slog.String("source", "ds248x"))
	d.log.Info("bridge ready", slog.String("dev", d.String()))
	return d, nil
}

// NewBus returns a 1-wire bus master using the bridge at addr.
func NewBus(i i2c.Bus, addr uint16, opts *Opts) (*owbus.Bus, error) {
	d, err := New(i, addr, opts)
	if err != nil {
		return nil, err
	}
	var bo owbus.Opts
	if opts != nil {
		bo.Logger = opts.Logger
	}
	return owbus.New(d, &bo), nil
}

// Dev is a handle to a ds248x device.
//
// Dev implements owbus.Slots, owbus.ByteSlots and owbus.TripletSlots: bytes
// and search triplets are shifted by the chip in a single command.
//
// An I²C failure or a chip stuck busy is sticky: every later call returns
// the same error until a new Dev reinitializes the chip. 1-wire problems,
// like a shorted line or no presence pulse, are not sticky and implement
// onewire.BusError.
type Dev struct {
	sync.Mutex               // lock for the bus while a command is in progress
	i2c        conn.Conn     // i2c device handle for the ds248x
	log        *slog.Logger  // diagnostics
	variant    int           // isDS2482x100, isDS2482x800 or isDS2483
	confReg    byte          // value written to configuration register
	tReset     time.Duration // time to perform a 1-wire reset
	tSlot      time.Duration // time to perform a 1-bit 1-wire read/write
	err        error         // persistent error, device will no longer operate
}

func (d *Dev) String() string {
	switch d.variant {
	case isDS2482x100:
		return fmt.Sprintf("DS2482-100{%s}", d.i2c)
	case isDS2482x800:
		return fmt.Sprintf("DS2482-800{%s}", d.i2c)
	case isDS2483:
		return fmt.Sprintf("DS2483{%s}", d.i2c)
	default:
		return fmt.Sprintf("Undefined{%s}", d.i2c)
	}
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Reset issues a reset pulse and returns true if any device answered with a
// presence pulse.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	d.i2cTx([]byte{cmd1WReset}, nil)
	status := d.waitIdle(d.tReset)
	if d.err != nil {
		return false, d.err
	}
	if status&stShort != 0 {
		return false, shortedBusError("ds248x: bus has a short")
	}
	return status&stPresence != 0, nil
}

// WriteBit performs a single write slot.
func (d *Dev) WriteBit(b bool) error {
	d.Lock()
	defer d.Unlock()
	d.bit(b)
	return d.err
}

// ReadBit performs a read slot, which is a write-1 slot whose level is
// sampled.
func (d *Dev) ReadBit() (bool, error) {
	d.Lock()
	defer d.Unlock()
	status := d.bit(true)
	return status&stSingleBit != 0, d.err
}

// WriteByte shifts a byte onto the bus, least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	d.Lock()
	defer d.Unlock()
	d.i2cTx([]byte{cmd1WWrite, b}, nil)
	d.waitIdle(7 * d.tSlot)
	return d.err
}

// ReadByte shifts a byte from the bus, least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	d.Lock()
	defer d.Unlock()
	d.i2cTx([]byte{cmd1WRead}, nil)
	d.waitIdle(7 * d.tSlot)
	var r [1]byte
	d.i2cTx([]byte{cmdSetReadPtr, regRDR}, r[:])
	return r[0], d.err
}

// Triplet performs a search triplet: two read slots then a write slot of the
// direction chosen by the chip. direction is used when both values are
// present on the bus.
func (d *Dev) Triplet(direction byte) (onewire.TripletResult, error) {
	d.Lock()
	defer d.Unlock()
	var dir byte
	if direction != 0 {
		dir = 0x80
	}
	d.i2cTx([]byte{cmd1WTriplet, dir}, nil)
	status := d.waitIdle(2 * d.tSlot)
	tr := onewire.TripletResult{
		GotZero: status&stSingleBit == 0,
		GotOne:  status&stTriplet == 0,
		Taken:   status >> 7,
	}
	return tr, d.err
}

// ChannelSelect selects one of the eight 1-wire channels of a DS2482-800.
//
// On other chips it does nothing. ch is clamped to [0, 7].
func (d *Dev) ChannelSelect(ch int) error {
	if d.variant != isDS2482x800 {
		return nil
	}
	if ch < 0 {
		ch = 0
	}
	if ch > 7 {
		ch = 7
	}
	d.Lock()
	defer d.Unlock()
	if err := d.i2c.Tx([]byte{cmdChannelSelect, cscWrite[ch]}, nil); err != nil {
		return fmt.Errorf("ds2482-800: error while selecting channel: %w", err)
	}
	return nil
}

// SelectedChannel returns the 1-wire channel selected on a DS2482-800.
//
// On other chips it always returns 0.
func (d *Dev) SelectedChannel() (int, error) {
	if d.variant != isDS2482x800 {
		return 0, nil
	}
	d.Lock()
	defer d.Unlock()
	var sch [1]byte
	if err := d.i2c.Tx([]byte{cmdSetReadPtr, regCSR}, sch[:]); err != nil {
		return 0, fmt.Errorf("ds2482-800: error while reading channel: %w", err)
	}
	ch := bytes.IndexByte(cscRead[:], sch[0])
	if ch < 0 {
		return 0, fmt.Errorf("ds2482-800: invalid channel selection register %#x", sch[0])
	}
	return ch, nil
}

//

// bit performs a single bit command and returns the status register.
func (d *Dev) bit(b bool) byte {
	var v byte
	if b {
		v = 0x80
	}
	d.i2cTx([]byte{cmd1WBit, v}, nil)
	return d.waitIdle(d.tSlot)
}

// i2cTx is a helper function to call i2c.Tx and handle the error by persisting
// it.
func (d *Dev) i2cTx(w, r []byte) {
	if d.err != nil {
		return
	}
	d.err = d.i2c.Tx(w, r)
}

// waitIdle sleeps for delay, then polls the status register every delay/10
// until the 1-wire busy bit clears, and returns the last status read.
//
// After 3ms the chip is considered stuck. It returns 0 once d.err is set.
func (d *Dev) waitIdle(delay time.Duration) byte {
	if d.err != nil {
		return 0
	}
	tOut := time.Now().Add(3 * time.Millisecond)
	sleep(delay)
	for {
		var status [1]byte
		d.i2cTx(nil, status[:])
		// This also returns if d.err!=nil because in that case status[0]==0.
		if status[0]&st1WBusy == 0 {
			return status[0]
		}
		// A stuck ds248x is not a 1-wire bus problem, hence it is persistent.
		if time.Now().After(tOut) {
			d.err = errors.New("ds248x: timeout waiting for bus cycle to finish")
			return 0
		}
		sleep(delay / 10)
	}
}

func (d *Dev) makeDev(opts *Opts) error {
	d.tReset = 2 * opts.ResetLow
	d.tSlot = opts.Write0Low + opts.Write0Recovery

	if err := d.i2c.Tx([]byte{cmdReset}, nil); err != nil {
		return fmt.Errorf("ds248x: error while resetting: %w", err)
	}

	// A responding ds248x comes out of reset with RST set.
	var stat [1]byte
	if err := d.i2c.Tx([]byte{cmdSetReadPtr, regStatus}, stat[:]); err != nil {
		return fmt.Errorf("ds248x: error while reading status register: %w", err)
	}
	if stat[0] != 0x18 {
		return fmt.Errorf("ds248x: invalid status register value: %#x, expected 0x18", stat[0])
	}

	// Writing the configuration gets the chip out of reset; only the bottom
	// nibble is read back.
	d.confReg = 0xe1 // standard-speed, no strong pullup, no powerdown, active pull-up
	if opts.PassivePullup {
		d.confReg ^= 0x11
	}
	var dcr [1]byte
	if err := d.i2c.Tx([]byte{cmdWriteConfig, d.confReg}, dcr[:]); err != nil {
		return fmt.Errorf("ds248x: error while writing device config register: %w", err)
	}
	if dcr[0] != d.confReg&0x0f {
		return fmt.Errorf("ds248x: failure to write device config register, wrote %#x got %#x back",
			d.confReg, dcr[0])
	}

	// Only the ds2483 has a port configuration register and only the
	// ds2482-800 a channel selection register.
	switch {
	case d.i2c.Tx([]byte{cmdSetReadPtr, regPCR}, nil) == nil:
		d.variant = isDS2483
		buf := []byte{cmdAdjPort,
			byte(0x00 + ((opts.ResetLow/time.Microsecond - 430) / 20 & 0x0f)),
			byte(0x20 + ((opts.PresenceDetect/time.Microsecond - 55) / 2 & 0x0f)),
			byte(0x40 + ((opts.Write0Low/time.Microsecond - 51) / 2 & 0x0f)),
			byte(0x60 + (((opts.Write0Recovery-1250)/2500 + 5) & 0x0f)),
			byte(0x80 + (opts.PullupRes & 0x0f)),
		}
		if err := d.i2c.Tx(buf, nil); err != nil {
			return fmt.Errorf("ds248x: error while setting port config values: %w", err)
		}
	case d.i2c.Tx([]byte{cmdSetReadPtr, regCSR}, nil) == nil:
		d.variant = isDS2482x800
		if err := d.i2c.Tx([]byte{cmdChannelSelect, cscWrite[0]}, nil); err != nil {
			return fmt.Errorf("ds2482-800: error while selecting channel: %w", err)
		}
	default:
		d.variant = isDS2482x100
	}
	return nil
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ owbus.Slots = &Dev{}
var _ owbus.ByteSlots = &Dev{}
var _ owbus.TripletSlots = &Dev{}
var _ onewire.ShortedBusError = shortedBusError("")

const (
	cmdReset         = 0xf0 // reset ds248x
	cmdSetReadPtr    = 0xe1 // set the read pointer
	cmdWriteConfig   = 0xd2 // write the device configuration
	cmdAdjPort       = 0xc3 // adjust 1-wire port (ds2483)
	cmdChannelSelect = 0xc3 // channel select (ds2482-800)
	cmd1WReset       = 0xb4 // reset the 1-wire bus
	cmd1WBit         = 0x87 // perform a single-bit transaction on the 1-wire bus
	cmd1WWrite       = 0xa5 // perform a byte write on the 1-wire bus
	cmd1WRead        = 0x96 // perform a byte read on the 1-wire bus
	cmd1WTriplet     = 0x78 // perform a triplet operation (2 bit reads, a bit write)

	regStatus = 0xf0 // read ptr for status register
	regRDR    = 0xe1 // read ptr for read-data register
	regPCR    = 0xb4 // read ptr for port configuration register
	regCSR    = 0xd2 // read ptr for channel selection register

	// Status register bits.
	st1WBusy    = 0x01
	stPresence  = 0x02
	stShort     = 0x04
	stSingleBit = 0x20
	stTriplet   = 0x40

	isDS2482x100 = 0
	isDS2482x800 = 1
	isDS2483     = 2
)

// ds2482-800 channel selection codes, written and read back.
var (
	cscWrite = [8]byte{0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87}
	cscRead  = [8]byte{0xb8, 0xb1, 0xaa, 0xa3, 0x9c, 0x95, 0x8e, 0x87}
)
