// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/thermowire/common"
	"github.com/GermanBionicSystems/thermowire/ds18b20"
	"github.com/GermanBionicSystems/thermowire/tempsensor"
	"github.com/fxamacker/cbor/v2"
	"periph.io/x/conn/v3/onewire"
)

// texter is a record with a one line human readable form.
type texter interface {
	text() string
}

// printer writes records in the configured format.
type printer struct {
	w      io.Writer
	format string
	enc    interface{ Encode(v interface{}) error }
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	p := &printer{w: w, format: format}
	switch format {
	case "text":
	case "json":
		p.enc = json.NewEncoder(w)
	case "cbor":
		p.enc = cbor.NewEncoder(w)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return p, nil
}

func (p *printer) print(r texter) error {
	if p.enc != nil {
		return p.enc.Encode(r)
	}
	_, err := io.WriteString(p.w, r.text()+"\n")
	return err
}

// deviceRecord describes a device found on the bus.
type deviceRecord struct {
	Address string `json:"address" cbor:"1,keyasint"`
	Family  string `json:"family" cbor:"2,keyasint"`
	Present *bool  `json:"present,omitempty" cbor:"3,keyasint,omitempty"`
}

func newDeviceRecord(a onewire.Address) deviceRecord {
	return deviceRecord{Address: formatAddr(a), Family: ds18b20.Family(a & 0xff).String()}
}

func (r deviceRecord) text() string {
	s := r.Address + " " + r.Family
	if r.Present != nil {
		if *r.Present {
			s += " present"
		} else {
			s += " absent"
		}
	}
	return s
}

// readingRecord is one temperature reading.
type readingRecord struct {
	Sensor  string    `json:"sensor" cbor:"1,keyasint"`
	Time    time.Time `json:"time" cbor:"2,keyasint"`
	Celsius float64   `json:"celsius" cbor:"3,keyasint"`
	Error   string    `json:"error,omitempty" cbor:"4,keyasint,omitempty"`
}

func newReadingRecord(r tempsensor.Reading) readingRecord {
	out := readingRecord{Sensor: r.Name, Time: r.Time}
	if r.Err != nil {
		out.Error = r.Err.Error()
	} else {
		out.Celsius = r.Temperature.Celsius()
	}
	return out
}

func (r readingRecord) text() string {
	if r.Error != "" {
		return r.Sensor + " error: " + r.Error
	}
	return r.Sensor + " " + strconv.FormatFloat(r.Celsius, 'f', -1, 64) + "°C"
}

// registersRecord is the configuration of a thermometer.
type registersRecord struct {
	Address    string `json:"address" cbor:"1,keyasint"`
	Resolution int    `json:"resolution" cbor:"2,keyasint"`
	High       int8   `json:"high" cbor:"3,keyasint"`
	Low        int8   `json:"low" cbor:"4,keyasint"`
	External   bool   `json:"external_power" cbor:"5,keyasint"`
}

func (r registersRecord) text() string {
	power := "parasite"
	if r.External {
		power = "external"
	}
	return fmt.Sprintf("%s %d bits, alarm %d..%d°C, %s power", r.Address, r.Resolution, r.Low, r.High, power)
}

func formatAddr(a onewire.Address) string {
	return fmt.Sprintf("%#016x", uint64(a))
}

// parseAddr accepts a 64 bit ROM code as a number, like 0x740000070e41ac28,
// or in the Linux w1 form, family and serial like 28-0000070e41ac, in which
// case the CRC is computed.
func parseAddr(s string) (onewire.Address, error) {
	if f, serial, ok := strings.Cut(s, "-"); ok && len(f) == 2 && len(serial) == 12 {
		fb, err1 := strconv.ParseUint(f, 16, 8)
		sn, err2 := strconv.ParseUint(serial, 16, 48)
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("invalid address %q", s)
		}
		var rom [8]byte
		rom[0] = byte(fb)
		for i := 0; i < 6; i++ {
			rom[1+i] = byte(sn >> (8 * i))
		}
		rom[7] = common.CRC8(rom[:7])
		return onewire.Address(binary.LittleEndian.Uint64(rom[:])), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	var rom [8]byte
	binary.LittleEndian.PutUint64(rom[:], v)
	if !common.CheckCRC8(rom[:]) {
		return 0, fmt.Errorf("address %q has an invalid CRC", s)
	}
	return onewire.Address(v), nil
}

func parseAddrs(args []string) ([]onewire.Address, error) {
	out := make([]onewire.Address, 0, len(args))
	for _, s := range args {
		a, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
