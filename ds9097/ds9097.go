// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097 drives a 1-wire bus through a plain UART, as found in the
// DS9097 family of serial adapters.
//
// At 115200 baud the start bit of a character is a ~9µs low pulse, so
// sending 0xFF generates a write-1 or read slot and sending 0x00 a write-0
// slot. The adapter echoes every character: a device answering 0 during a
// read slot pulls the line low and corrupts the echoed 0xFF. A reset pulse is
// the 0xF0 character sent at 9600 baud; a presence pulse shows up as a
// changed echo.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package ds9097

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/tarm/serial"
)

// Baud rates used for the reset and bit slots.
const (
	ResetBaud = 9600
	SlotBaud  = 115200
)

const (
	resetChar = 0xf0
	bit1Char  = 0xff
	bit0Char  = 0x00
)

// Port is a serial port.
type Port interface {
	io.ReadWriteCloser
	// Flush discards unread input.
	Flush() error
}

// Opener opens the serial port name at baud, 8N1.
type Opener func(name string, baud int, timeout time.Duration) (Port, error)

// OpenSerial is the default Opener, using the host serial driver.
func OpenSerial(name string, baud int, timeout time.Duration) (Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// ReadTimeout bounds the wait for an echo.
	ReadTimeout time.Duration
	// Open opens the port. nil means OpenSerial.
	Open Opener
	// Logger receives diagnostics. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: 100 * time.Millisecond,
}

// New opens the serial port name and returns an adapter driving the 1-wire
// bus connected to it.
func New(name string, opts *Opts) (*Dev, error) {
	if name == "" {
		return nil, errors.New("ds9097: serial port name is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{name: name, open: opts.Open, timeout: opts.ReadTimeout}
	if d.open == nil {
		d.open = OpenSerial
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	d.log = l.With(slog.String("source", "ds9097"), slog.String("port", name))
	if err := d.setBaud(SlotBaud); err != nil {
		return nil, err
	}
	return d, nil
}

// NewBus returns a 1-wire bus master using the adapter on port name.
func NewBus(name string, opts *Opts) (*owbus.Bus, error) {
	d, err := New(name, opts)
	if err != nil {
		return nil, err
	}
	var bo owbus.Opts
	if opts != nil {
		bo.Logger = opts.Logger
	}
	return owbus.New(d, &bo), nil
}

// Dev is a UART based 1-wire master.
//
// Dev implements owbus.Slots and owbus.ByteSlots.
type Dev struct {
	mu      sync.Mutex
	name    string
	open    Opener
	timeout time.Duration
	log     *slog.Logger
	port    Port
	baud    int
}

func (d *Dev) String() string {
	return "DS9097{" + d.name + "}"
}

// Halt closes the serial port. The next operation reopens it.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.baud = 0
	return err
}

// Reset sends a reset pulse and returns true if a device answered.
func (d *Dev) Reset() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setBaud(ResetBaud); err != nil {
		return false, err
	}
	echo, err := d.exchange([]byte{resetChar})
	if err != nil {
		return false, err
	}
	if err := d.setBaud(SlotBaud); err != nil {
		return false, err
	}
	present := echo[0] != resetChar
	d.log.Debug("reset", slog.Bool("present", present), slog.String("echo", fmt.Sprintf("%#02x", echo[0])))
	return present, nil
}

// WriteBit sends one write slot.
func (d *Dev) WriteBit(b bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write([]byte{slotChar(b)})
}

// ReadBit sends one read slot.
func (d *Dev) ReadBit() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	echo, err := d.exchange([]byte{bit1Char})
	if err != nil {
		return false, err
	}
	return echo[0] == bit1Char, nil
}

// WriteByte sends 8 write slots in a single UART write.
func (d *Dev) WriteByte(v byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var w [8]byte
	for i := range w {
		w[i] = slotChar(v&(1<<uint(i)) != 0)
	}
	return d.write(w[:])
}

// ReadByte sends 8 read slots in a single UART write.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := [8]byte{bit1Char, bit1Char, bit1Char, bit1Char, bit1Char, bit1Char, bit1Char, bit1Char}
	echo, err := d.exchange(w[:])
	if err != nil {
		return 0, err
	}
	var v byte
	for i, c := range echo {
		if c == bit1Char {
			v |= 1 << uint(i)
		}
	}
	return v, nil
}

//

// write sends slots and checks that the echo matches.
func (d *Dev) write(w []byte) error {
	echo, err := d.exchange(w)
	if err != nil {
		return err
	}
	for i := range w {
		if echo[i] != w[i] {
			return busError(fmt.Sprintf("ds9097: collision on write slot, sent %#02x got %#02x", w[i], echo[i]))
		}
	}
	return nil
}

// exchange writes w and reads back its echo.
func (d *Dev) exchange(w []byte) ([]byte, error) {
	if d.port == nil {
		if err := d.setBaud(SlotBaud); err != nil {
			return nil, err
		}
	}
	if err := d.port.Flush(); err != nil {
		return nil, fmt.Errorf("ds9097: %s: %w", d.name, err)
	}
	if _, err := d.port.Write(w); err != nil {
		return nil, fmt.Errorf("ds9097: %s: %w", d.name, err)
	}
	echo := make([]byte, len(w))
	if _, err := io.ReadFull(d.port, echo); err != nil {
		return nil, fmt.Errorf("ds9097: %s: no echo: %w", d.name, err)
	}
	return echo, nil
}

// setBaud reopens the port at the given baud rate.
func (d *Dev) setBaud(baud int) error {
	if d.port != nil && d.baud == baud {
		return nil
	}
	if d.port != nil {
		_ = d.port.Close()
		d.port = nil
	}
	p, err := d.open(d.name, baud, d.timeout)
	if err != nil {
		return fmt.Errorf("ds9097: opening %s at %d baud: %w", d.name, baud, err)
	}
	d.port = p
	d.baud = baud
	return nil
}

func slotChar(b bool) byte {
	if b {
		return bit1Char
	}
	return bit0Char
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ owbus.Slots = &Dev{}
var _ owbus.ByteSlots = &Dev{}
