// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/GermanBionicSystems/thermowire/bitbang"
	"github.com/GermanBionicSystems/thermowire/ds248x"
	"github.com/GermanBionicSystems/thermowire/ds9097"
	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/GermanBionicSystems/thermowire/owbus/owbustest"
	"github.com/warthog618/config"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// openBus returns the bus selected by the adapter key and the function
// releasing it.
func openBus(cfg *config.Config, log *slog.Logger) (*owbus.Bus, func() error, error) {
	switch a := cfg.MustGet("adapter").String(); a {
	case "gpio":
		if _, err := host.Init(); err != nil {
			return nil, nil, err
		}
		name := cfg.MustGet("pin").String()
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, nil, fmt.Errorf("unknown pin %q", name)
		}
		o := bitbang.DefaultOpts
		o.Logger = log
		b, err := bitbang.NewBus(bitbang.FromPin(p), &o)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Halt, nil
	case "rpi":
		n, err := rpiPin(cfg.MustGet("pin").String())
		if err != nil {
			return nil, nil, err
		}
		return openRPi(n, log)
	case "ds248x":
		if _, err := host.Init(); err != nil {
			return nil, nil, err
		}
		i, err := i2creg.Open(cfg.MustGet("i2c.bus").String())
		if err != nil {
			return nil, nil, err
		}
		o := ds248x.DefaultOpts
		o.Logger = log
		b, err := ds248x.NewBus(i, uint16(cfg.MustGet("i2c.addr").Int()), &o)
		if err != nil {
			i.Close()
			return nil, nil, err
		}
		return b, i.Close, nil
	case "ds9097":
		o := ds9097.DefaultOpts
		o.Logger = log
		b, err := ds9097.NewBus(cfg.MustGet("serial.port").String(), &o)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Halt, nil
	case "sim":
		return owbus.New(simNet(), &owbus.Opts{Logger: log}), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", a)
	}
}

// rpiPin parses a BCM pin number, with or without the GPIO prefix.
func rpiPin(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "GPIO"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid pin %q", s)
	}
	return n, nil
}

// simNet returns a simulated bus with two thermometers and a DS18S20.
func simNet() *owbustest.Net {
	var devs []owbustest.Device
	for i, c := range []float64{21.5, -3.25, 27} {
		family := byte(0x28)
		if i == 2 {
			family = 0x10
		}
		d := owbustest.NewDS18B20(owbustest.MakeROM(family, uint64(0x1f40+i)))
		d.ConversionReads = 4
		d.SetTemperature(physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius)))
		devs = append(devs, d)
	}
	return owbustest.NewNet(devs...)
}
