// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"time"

	"github.com/GermanBionicSystems/thermowire/ds18b20"
	"github.com/GermanBionicSystems/thermowire/tempsensor"
	"github.com/spf13/cobra"
)

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read [address]...",
		Short: "Read the temperature of thermometers",
		Long: `Read the temperature of the given thermometers, or of every DS18B20 on
the bus when no address is given.

Addresses are 64 bit ROM codes (0x740000070e41ac28) or family and serial
in the Linux w1 form (28-0000070e41ac).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.sensors(cmd.Context(), args)
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), a.cfg.MustGet("format").String())
			if err != nil {
				return err
			}
			var failed error
			for _, r := range t.ReadAll(cmd.Context(), time.Now) {
				if r.Err != nil {
					failed = errors.New("some sensors failed")
				}
				if err := p.print(newReadingRecord(r)); err != nil {
					return err
				}
			}
			return failed
		},
	}
}

// sensors registers one OneWire sensor per address, or per DS18B20 found on
// the bus, and initializes them.
func (a *app) sensors(ctx context.Context, args []string) (*tempsensor.Table, error) {
	addrs, err := parseAddrs(args)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		all, err := a.bus.Search(false)
		if err != nil {
			return nil, err
		}
		for _, addr := range all {
			if ds18b20.Is(addr) == nil {
				addrs = append(addrs, addr)
			}
		}
		if len(addrs) == 0 {
			return nil, tempsensor.ErrNoSensor
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o, err := a.sensorOpts()
	if err != nil {
		return nil, err
	}
	t := &tempsensor.Table{}
	for _, addr := range addrs {
		so := o
		so.Addr = addr
		s, err := tempsensor.NewOneWire(a.bus, &so)
		if err != nil {
			return nil, err
		}
		if err := t.Register(formatAddr(addr), s); err != nil {
			return nil, err
		}
	}
	if err := t.InitAll(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *app) sensorOpts() (tempsensor.Opts, error) {
	o := tempsensor.DefaultOpts
	o.Timeout = a.cfg.MustGet("timeout").Duration()
	o.PollInterval = a.cfg.MustGet("poll").Duration()
	o.Logger = a.log
	if n := a.cfg.MustGet("resolution").Int(); n != 0 {
		res, err := parseResolution(n)
		if err != nil {
			return o, err
		}
		o.Resolution = res
	}
	return o, nil
}

// dev binds the thermometer at the given address.
func (a *app) dev(s string) (*ds18b20.Dev, error) {
	addr, err := parseAddr(s)
	if err != nil {
		return nil, err
	}
	return ds18b20.New(a.bus, addr, &ds18b20.Opts{Logger: a.log})
}
