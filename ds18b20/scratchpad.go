// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"math"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/thermowire/common"
	"periph.io/x/conn/v3/physic"
)

// Resolution is the number of significant bits of a conversion, 9 to 12.
type Resolution uint8

// Valid resolutions.
const (
	Res9  Resolution = 9  // 0.5°C, 94ms
	Res10 Resolution = 10 // 0.25°C, 188ms
	Res11 Resolution = 11 // 0.125°C, 375ms
	Res12 Resolution = 12 // 0.0625°C, 750ms
)

func (r Resolution) String() string {
	return strconv.Itoa(int(r)) + "bits"
}

// Valid returns true if r is one of the four resolutions of the device.
func (r Resolution) Valid() bool {
	return r >= Res9 && r <= Res12
}

// Step returns the temperature increment of one least significant bit.
func (r Resolution) Step() physic.Temperature {
	if !r.Valid() {
		return 0
	}
	return physic.Kelvin / 2 >> uint(r-Res9)
}

// ConversionTime returns the worst case duration of a conversion, datasheet
// p.6.
func (r Resolution) ConversionTime() time.Duration {
	if !r.Valid() {
		return 0
	}
	return (94 << uint(r-Res9)) * time.Millisecond
}

// config returns the R1:R0 bits of the configuration register.
func (r Resolution) config() byte {
	return byte(r-Res9) << 5 & configResMask
}

func resolutionOf(config byte) Resolution {
	return Res9 + Resolution(config&configResMask>>5)
}

// InvalidTemperature is returned by DecodeTemperature for an unknown
// resolution. It is far below absolute zero and cannot be mistaken for a
// reading.
const InvalidTemperature physic.Temperature = math.MinInt64

// DecodeTemperature converts the temperature register to a temperature.
//
// The register is a 16-bit two's complement value in sixteenths of a degree.
// The bits below the resolution are undefined and ignored.
func DecodeTemperature(lsb, msb byte, res Resolution) physic.Temperature {
	if !res.Valid() {
		return InvalidTemperature
	}
	m := uint16(msb)<<8 | uint16(lsb)
	neg := m&0x8000 != 0
	if neg {
		m = ^m + 1
	}
	whole := m >> 4 & 0x7f
	frac := m & (0xf &^ (1<<uint(12-res) - 1))
	v := physic.Temperature(whole<<4|frac) * physic.Kelvin / 16
	if neg {
		v = -v
	}
	return v + physic.ZeroCelsius
}

// Scratchpad is the content of the device's scratchpad memory, CRC included.
type Scratchpad [9]byte

// Check verifies the CRC.
//
// A bus where nothing drives the line reads all ones, which is reported as
// ErrNoResponse rather than ErrCRC.
func (s *Scratchpad) Check() error {
	if common.CheckCRC8(s[:]) {
		return nil
	}
	for _, b := range s {
		if b != 0xff {
			return ErrCRC
		}
	}
	return ErrNoResponse
}

// Raw returns the temperature register.
func (s *Scratchpad) Raw() uint16 {
	return uint16(s[1])<<8 | uint16(s[0])
}

// Resolution returns the resolution set in the configuration register.
func (s *Scratchpad) Resolution() Resolution {
	return resolutionOf(s[4])
}

// Temperature decodes the temperature register at the configured resolution.
func (s *Scratchpad) Temperature() physic.Temperature {
	return DecodeTemperature(s[0], s[1], s.Resolution())
}

// Registers returns the alarm thresholds and configuration register.
func (s *Scratchpad) Registers() Registers {
	return Registers{TH: int8(s[2]), TL: int8(s[3]), Config: s[4]}
}

// Registers is the writable part of the scratchpad, persisted in EEPROM.
//
// They are always written back as a whole: update a copy read from the
// device so the fields not being changed keep their value.
type Registers struct {
	TH     int8 // upper alarm threshold, °C
	TL     int8 // lower alarm threshold, °C
	Config byte // configuration register, bits 5-6 are the resolution
}

// Resolution returns the resolution set in Config.
func (r *Registers) Resolution() Resolution {
	return resolutionOf(r.Config)
}

// SetResolution changes the resolution bits of Config and keeps the others.
func (r *Registers) SetResolution(res Resolution) {
	r.Config = r.Config&^configResMask | res.config()
}

func (r *Registers) bytes() []byte {
	return []byte{byte(r.TH), byte(r.TL), r.Config}
}

// clampAlarm limits an alarm threshold to the operating range.
func clampAlarm(c int) int8 {
	if c > AlarmMax {
		return AlarmMax
	}
	if c < AlarmMin {
		return AlarmMin
	}
	return int8(c)
}

// Operating range, also the alarm thresholds that can never trigger.
const (
	AlarmMax = 125
	AlarmMin = -55
)

const configResMask = 0x60
