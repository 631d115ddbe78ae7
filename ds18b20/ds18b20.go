// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 controls a Maxim DS18B20 digital thermometer on a 1-wire
// bus.
//
// A conversion is started with Start (one device) or StartAll (every device
// at once) and collected with Read, which returns ErrConversionInProgress
// until the device releases the line. Sense wraps both for the
// physic.SenseEnv interface.
//
// Parasite power is not supported: devices must be powered through VDD.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Function commands.
const (
	ConvertT        = 0x44
	ReadScratchpad  = 0xbe
	WriteScratchpad = 0x4e
	CopyScratchpad  = 0x48
	RecallEEPROM    = 0xb8
	ReadPowerSupply = 0xb4
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

// Known family codes. Only DS18B20 is supported by this driver.
const (
	DS18B20 Family = 0x28
	DS18S20 Family = 0x10
)

var (
	// ErrNotDS18B20 is returned when the address belongs to another
	// device family.
	ErrNotDS18B20 = errors.New("ds18b20: not a DS18B20")
	// ErrConversionInProgress is returned by Read while the device is
	// still converting. It is not a failure: poll again later.
	ErrConversionInProgress = errors.New("ds18b20: conversion in progress")
	// ErrCRC is returned when the scratchpad fails its CRC check, usually
	// because of noise on the line. Reading again is safe.
	ErrCRC error = busError("ds18b20: incorrect scratchpad CRC")
	// ErrNoResponse is returned when nothing answered the read.
	ErrNoResponse error = busError("ds18b20: device did not respond")
	// ErrResolution is returned when the temperature cannot be decoded.
	ErrResolution = errors.New("ds18b20: unknown resolution")
)

// Bus is a 1-wire bus able to issue a single read slot, used to poll a
// conversion in progress.
//
// *owbus.Bus implements it.
type Bus interface {
	onewire.Bus
	ReadBit() (bool, error)
}

// Is returns nil if addr is the address of a DS18B20 and ErrNotDS18B20
// otherwise.
func Is(addr onewire.Address) error {
	if f := Family(addr & 0xff); f != DS18B20 {
		return fmt.Errorf("%w: %#016x is a %s (%#02x)", ErrNotDS18B20, uint64(addr), f, byte(f))
	}
	return nil
}

// StartAll starts a conversion on all DS18B20 devices on the bus.
//
// Use AllDone to learn when every device is done, then Dev.LastTemp or
// Dev.Read to collect each result.
func StartAll(o onewire.Bus) error {
	return o.Tx([]byte{owbus.SkipROM, ConvertT}, nil, onewire.StrongPullup)
}

// AllDone returns true once every device converting has released the line.
//
// It must follow StartAll or Dev.Start without any other bus activity in
// between.
func AllDone(o Bus) (bool, error) {
	return o.ReadBit()
}

// ConvertAll performs a conversion on all DS18B20 devices on the bus.
//
// It returns when the conversions have completed. This time period is
// determined by the maximum resolution of all devices on the bus and must be
// provided.
//
// ConvertAll uses time.Sleep to wait for the conversion to finish, which takes
// from 94ms to 752ms.
func ConvertAll(o onewire.Bus, maxResolutionBits int) error {
	r := Resolution(maxResolutionBits)
	if !r.Valid() {
		return errors.New("ds18b20: invalid maxResolutionBits")
	}
	if err := StartAll(o); err != nil {
		return err
	}
	sleep(r.ConversionTime())
	return nil
}

// AlarmSearch returns the DS18B20 devices whose last conversion is outside
// their [TL, TH] window.
func AlarmSearch(o onewire.Bus) ([]onewire.Address, error) {
	all, err := o.Search(true)
	var out []onewire.Address
	for _, a := range all {
		if Is(a) == nil {
			out = append(out, a)
		}
	}
	return out, err
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// Resolution to configure; 0 keeps the device setting.
	Resolution Resolution
	// Clock paces SenseContinuous. nil means the real clock.
	Clock clockwork.Clock
	// Logger receives diagnostics. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{}

// New returns an object that communicates over 1-wire to the DS18B20 sensor
// with the specified 64-bit address.
//
// The scratchpad is read to confirm the device answers. If opts requests a
// resolution different from the device's, it is written and persisted to
// EEPROM. The resolution affects the conversion time: 9bits:94ms,
// 10bits:188ms, 11bits:375ms, 12bits:750ms.
//
// A resolution of 10 bits corresponds to 0.25C and tends to be a good
// compromise between conversion time and the device's inherent accuracy of
// +/-0.5C.
func New(o Bus, addr onewire.Address, opts *Opts) (*Dev, error) {
	if o == nil {
		return nil, errors.New("ds18b20: bus is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Resolution != 0 && !opts.Resolution.Valid() {
		return nil, errors.New("ds18b20: invalid resolution")
	}
	if err := Is(addr); err != nil {
		return nil, err
	}
	d := &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}, bus: o, clock: opts.Clock}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	d.log = l.With(slog.String("source", "ds18b20"), slog.String("addr", fmt.Sprintf("%#016x", uint64(addr))))

	// Start by reading the scratchpad memory, this will tell us whether we can
	// talk to the device correctly and also how it's configured.
	s, err := d.ReadScratchpad()
	if err != nil {
		return nil, err
	}
	d.res = s.Resolution()
	if opts.Resolution != 0 && opts.Resolution != d.res {
		r := s.Registers()
		r.SetResolution(opts.Resolution)
		if err := d.WriteRegisters(r); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// 1-wire bus.
type Dev struct {
	onewire onewire.Dev // device on 1-wire bus
	bus     Bus
	clock   clockwork.Clock
	log     *slog.Logger

	mu       sync.Mutex
	res      Resolution // cached from the last scratchpad read
	shutdown chan struct{}
}

// Family returns the device family from its address.
func (d *Dev) Family() Family {
	return Family(d.onewire.Addr & 0xFF)
}

// Addr returns the device address.
func (d *Dev) Addr() onewire.Address {
	return d.onewire.Addr
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.onewire.String() + "}"
}

// Halt stops a SenseContinuous in progress.
//
// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		close(d.shutdown)
		d.shutdown = nil
	}
	return nil
}

// Start starts a conversion on this device only.
func (d *Dev) Start() error {
	return d.onewire.TxPower([]byte{ConvertT}, nil)
}

// Read returns the result of the conversion started last.
//
// It returns ErrConversionInProgress while the device is converting; this is
// detected with a single read slot, so Read must directly follow Start or
// StartAll, or a previous Read, without any other bus activity in between.
// A corrupted transfer returns ErrCRC and can be retried with another Read.
func (d *Dev) Read() (physic.Temperature, error) {
	done, err := d.bus.ReadBit()
	if err != nil {
		return 0, err
	}
	if !done {
		return 0, ErrConversionInProgress
	}
	return d.LastTemp()
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with ConvertAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	s, err := d.ReadScratchpad()
	if err != nil {
		return 0, err
	}
	t := s.Temperature()
	if t == InvalidTemperature {
		return 0, ErrResolution
	}
	return t, nil
}

// ReadScratchpad reads the 9 bytes of scratchpad and checks the CRC.
func (d *Dev) ReadScratchpad() (Scratchpad, error) {
	var s Scratchpad
	if err := d.onewire.Tx([]byte{ReadScratchpad}, s[:]); err != nil {
		return s, err
	}
	if err := s.Check(); err != nil {
		d.log.Warn("scratchpad", slog.String("err", err.Error()), slog.String("data", fmt.Sprintf("% x", s[:])))
		return s, err
	}
	d.mu.Lock()
	d.res = s.Resolution()
	d.mu.Unlock()
	return s, nil
}

// Registers returns TH, TL and the configuration register.
func (d *Dev) Registers() (Registers, error) {
	s, err := d.ReadScratchpad()
	if err != nil {
		return Registers{}, err
	}
	return s.Registers(), nil
}

// WriteRegisters writes TH, TL and the configuration register to the
// scratchpad then copies them to EEPROM.
func (d *Dev) WriteRegisters(r Registers) error {
	w := append([]byte{WriteScratchpad}, r.bytes()...)
	if err := d.onewire.Tx(w, nil); err != nil {
		return err
	}
	if err := d.onewire.TxPower([]byte{CopyScratchpad}, nil); err != nil {
		return err
	}
	// Wait for the EEPROM write to complete.
	sleep(10 * time.Millisecond)
	d.mu.Lock()
	d.res = r.Resolution()
	d.mu.Unlock()
	d.log.Debug("registers", slog.Int("th", int(r.TH)), slog.Int("tl", int(r.TL)), slog.String("res", r.Resolution().String()))
	return nil
}

// Resolution returns the resolution read from the device.
func (d *Dev) Resolution() (Resolution, error) {
	r, err := d.Registers()
	if err != nil {
		return 0, err
	}
	return r.Resolution(), nil
}

// SetResolution changes the resolution, keeping the alarm thresholds.
func (d *Dev) SetResolution(res Resolution) error {
	if !res.Valid() {
		return errors.New("ds18b20: invalid resolution")
	}
	return d.update(func(r *Registers) { r.SetResolution(res) })
}

// Alarms returns the upper and lower alarm thresholds in °C.
func (d *Dev) Alarms() (th, tl int8, err error) {
	r, err := d.Registers()
	if err != nil {
		return 0, 0, err
	}
	return r.TH, r.TL, nil
}

// SetAlarmHigh sets the upper alarm threshold, clamped to [-55, 125]°C.
func (d *Dev) SetAlarmHigh(c int) error {
	return d.update(func(r *Registers) { r.TH = clampAlarm(c) })
}

// SetAlarmLow sets the lower alarm threshold, clamped to [-55, 125]°C.
func (d *Dev) SetAlarmLow(c int) error {
	return d.update(func(r *Registers) { r.TL = clampAlarm(c) })
}

// DisableAlarm sets the thresholds to the limits of the operating range so
// the device never shows up in an alarm search.
func (d *Dev) DisableAlarm() error {
	return d.update(func(r *Registers) { r.TH, r.TL = AlarmMax, AlarmMin })
}

// Recall reloads TH, TL and the configuration register from EEPROM into the
// scratchpad.
func (d *Dev) Recall() error {
	if err := d.onewire.Tx([]byte{RecallEEPROM}, nil); err != nil {
		return err
	}
	_, err := d.ReadScratchpad()
	return err
}

// ExternallyPowered returns true if the device is powered through VDD
// rather than parasitically from the data line.
func (d *Dev) ExternallyPowered() (bool, error) {
	if err := d.onewire.Tx([]byte{ReadPowerSupply}, nil); err != nil {
		return false, err
	}
	return d.bus.ReadBit()
}

// Sense implements physic.SenseEnv.
//
// It starts a conversion on this device, waits for the conversion time of
// the current resolution, then reads the result.
func (d *Dev) Sense(e *physic.Env) error {
	if err := d.Start(); err != nil {
		return err
	}
	d.mu.Lock()
	res := d.res
	d.mu.Unlock()
	sleep(res.ConversionTime())
	t, err := d.Read()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// Readings that fail are logged and skipped. Call Halt to stop; the channel
// is then closed.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		return nil, errors.New("ds18b20: SenseContinuous already running")
	}
	if interval < d.res.ConversionTime() {
		return nil, fmt.Errorf("ds18b20: interval %s is shorter than the conversion time %s", interval, d.res.ConversionTime())
	}
	shutdown := make(chan struct{})
	d.shutdown = shutdown
	ch := make(chan physic.Env, 16)
	go func() {
		ticker := d.clock.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.Chan():
				e := physic.Env{}
				if err := d.Sense(&e); err != nil {
					d.log.Warn("sense", slog.String("err", err.Error()))
					continue
				}
				select {
				case ch <- e:
				case <-shutdown:
					return
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.Temperature = d.res.Step()
}

//

// update reads the registers, applies f and writes the result back.
func (d *Dev) update(f func(r *Registers)) error {
	r, err := d.Registers()
	if err != nil {
		return err
	}
	f(&r)
	return d.WriteRegisters(r)
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
var _ Bus = &owbus.Bus{}
