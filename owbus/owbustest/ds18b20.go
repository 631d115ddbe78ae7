// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"math"
	"sync"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// DS18B20 simulates a Maxim DS18B20 thermometer.
//
// The temperature register is latched from Temperature when a conversion
// completes. A conversion lasts ConversionReads read slots; during that time
// read slots return 0. A reset completes a pending conversion.
type DS18B20 struct {
	ROM onewire.Address
	// ConversionReads is the number of read slots a conversion keeps the
	// line busy; -1 means the conversion never completes.
	ConversionReads int
	// Parasite makes READ_POWER_SUPPLY report parasite power.
	Parasite bool
	// Corrupt flips a bit of the scratchpad after its CRC is computed.
	Corrupt bool

	mu       sync.Mutex
	temp     physic.Temperature
	reg      int16
	th, tl   int8
	config   byte
	eeprom   [3]byte
	alarm    bool
	busy     int
	pending  bool
	copies   int
	converts int

	mode   mode
	bit    int
	phase  int
	rx     byte
	rxBuf  []byte
	tx     []byte
	holdLo bool
}

type mode int

const (
	idle       mode = iota // deselected until the next reset
	romCmd                 // receiving a ROM command
	matchROM               // comparing the addressed ROM
	searchROM              // answering search triplets
	funcCmd                // receiving a function command
	recvRegs               // receiving TH, TL and config
	send                   // sending tx, then 1s
	converting             // read slots report busy
)

// Commands understood by the model.
const (
	cmdSearchROM   = 0xf0
	cmdReadROM     = 0x33
	cmdMatchROM    = 0x55
	cmdSkipROM     = 0xcc
	cmdAlarmSearch = 0xec
	cmdConvert     = 0x44
	cmdReadSP      = 0xbe
	cmdWriteSP     = 0x4e
	cmdCopySP      = 0x48
	cmdRecall      = 0xb8
	cmdPower       = 0xb4
)

// NewDS18B20 returns a device in its power-up state: 85°C in the
// temperature register, TH 75, TL 70 and 12 bits resolution.
func NewDS18B20(rom onewire.Address) *DS18B20 {
	d := &DS18B20{ROM: rom, reg: 0x0550, th: 75, tl: 70, config: 0x7f}
	d.eeprom = [3]byte{byte(d.th), byte(d.tl), d.config}
	d.temp = 85*physic.Celsius + physic.ZeroCelsius
	return d
}

// SetTemperature sets the temperature the next conversion measures.
func (d *DS18B20) SetTemperature(t physic.Temperature) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.temp = t
}

// SetRegister writes the raw temperature register, as if a conversion
// had just completed.
func (d *DS18B20) SetRegister(r uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reg = int16(r)
	d.updateAlarm()
}

// Register returns the raw temperature register.
func (d *DS18B20) Register() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint16(d.reg)
}

// Registers returns TH, TL and the configuration register.
func (d *DS18B20) Registers() (th, tl int8, config byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.th, d.tl, d.config
}

// SetRegisters sets TH, TL and the configuration register.
func (d *DS18B20) SetRegisters(th, tl int8, config byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.th, d.tl, d.config = th, tl, config&0x60|0x1f
	d.updateAlarm()
}

// EEPROM returns the persisted TH, TL and configuration bytes.
func (d *DS18B20) EEPROM() [3]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eeprom
}

// Copies returns the number of COPY_SCRATCHPAD commands received.
func (d *DS18B20) Copies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copies
}

// Conversions returns the number of CONVERT_T commands received.
func (d *DS18B20) Conversions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.converts
}

// Alarm reports whether the last conversion is outside [TL, TH].
func (d *DS18B20) Alarm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alarm
}

// Scratchpad returns the 9 bytes sent on READ_SCRATCHPAD.
func (d *DS18B20) Scratchpad() [9]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scratchpad()
}

// Reset implements Device.
func (d *DS18B20) Reset() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending && d.ConversionReads >= 0 {
		d.complete()
	}
	d.enter(romCmd)
	return true
}

// Drive implements Device.
func (d *DS18B20) Drive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.mode {
	case searchROM:
		switch d.phase {
		case 0:
			return romBit(d.ROM, d.bit)
		case 1:
			return !romBit(d.ROM, d.bit)
		}
	case send:
		if d.holdLo {
			return false
		}
		if d.bit < 8*len(d.tx) {
			return d.tx[d.bit/8]&(1<<uint(d.bit%8)) != 0
		}
	case converting:
		return d.busy == 0
	}
	return true
}

// Slot implements Device.
func (d *DS18B20) Slot(level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.mode {
	case romCmd, funcCmd, recvRegs:
		if level {
			d.rx |= 1 << uint(d.bit)
		}
		if d.bit++; d.bit == 8 {
			b := d.rx
			d.rx, d.bit = 0, 0
			d.receive(b)
		}
	case matchROM:
		if level != romBit(d.ROM, d.bit) {
			d.enter(idle)
			return
		}
		if d.bit++; d.bit == 64 {
			d.enter(funcCmd)
		}
	case searchROM:
		if d.phase < 2 {
			d.phase++
			return
		}
		if level != romBit(d.ROM, d.bit) {
			d.enter(idle)
			return
		}
		d.phase = 0
		if d.bit++; d.bit == 64 {
			d.enter(funcCmd)
		}
	case send:
		d.bit++
	case converting:
		if d.busy > 0 {
			d.busy--
		}
		if d.busy == 0 && d.pending {
			d.complete()
		}
	}
}

//

func (d *DS18B20) enter(m mode) {
	d.mode = m
	d.bit, d.phase, d.rx = 0, 0, 0
	d.holdLo = false
}

// receive handles a complete byte.
func (d *DS18B20) receive(b byte) {
	switch d.mode {
	case romCmd:
		switch b {
		case cmdSearchROM:
			d.enter(searchROM)
		case cmdAlarmSearch:
			if d.alarm {
				d.enter(searchROM)
			} else {
				d.enter(idle)
			}
		case cmdMatchROM:
			d.enter(matchROM)
		case cmdSkipROM:
			d.enter(funcCmd)
		case cmdReadROM:
			var rom [8]byte
			for i := range rom {
				rom[i] = byte(d.ROM >> (8 * uint(i)))
			}
			d.sendBytes(rom[:])
		default:
			d.enter(idle)
		}
	case funcCmd:
		switch b {
		case cmdConvert:
			d.converts++
			d.pending = true
			d.busy = d.ConversionReads
			d.enter(converting)
			if d.busy == 0 {
				d.complete()
			}
		case cmdReadSP:
			s := d.scratchpad()
			d.sendBytes(s[:])
		case cmdWriteSP:
			d.rxBuf = d.rxBuf[:0]
			d.enter(recvRegs)
		case cmdCopySP:
			d.copies++
			d.eeprom = [3]byte{byte(d.th), byte(d.tl), d.config}
			d.enter(idle)
		case cmdRecall:
			d.th, d.tl, d.config = int8(d.eeprom[0]), int8(d.eeprom[1]), d.eeprom[2]
			d.sendBytes(nil)
		case cmdPower:
			d.sendBytes(nil)
			d.holdLo = d.Parasite
		default:
			d.enter(idle)
		}
	case recvRegs:
		d.rxBuf = append(d.rxBuf, b)
		if len(d.rxBuf) == 3 {
			d.th, d.tl = int8(d.rxBuf[0]), int8(d.rxBuf[1])
			d.config = d.rxBuf[2]&0x60 | 0x1f
			d.updateAlarm()
			d.enter(idle)
		}
	}
}

func (d *DS18B20) sendBytes(b []byte) {
	d.enter(send)
	d.tx = append(d.tx[:0], b...)
}

// complete latches the measured temperature into the register.
func (d *DS18B20) complete() {
	d.pending = false
	d.busy = 0
	res := 9 + uint(d.config>>5&3)
	c := d.temp.Celsius()
	v := int32(math.Round(math.Abs(c) * 16))
	v &^= (1 << (12 - res)) - 1
	if c < 0 {
		v = -v
	}
	d.reg = int16(v)
	d.updateAlarm()
}

func (d *DS18B20) updateAlarm() {
	t := d.reg >> 4
	d.alarm = t >= int16(d.th) || t <= int16(d.tl)
}

func (d *DS18B20) scratchpad() [9]byte {
	s := [9]byte{byte(d.reg), byte(uint16(d.reg) >> 8), byte(d.th), byte(d.tl), d.config, 0xff, 0x0c, 0x10}
	s[8] = onewire.CalcCRC(s[:8])
	if d.Corrupt {
		s[0] ^= 0x04
	}
	return s
}
