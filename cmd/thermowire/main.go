// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// thermowire reads DS18B20 thermometers on a 1-wire bus.
//
// The bus is reached through one of several adapters: a periph GPIO pin
// (gpio), a memory mapped Raspberry Pi GPIO (rpi), a DS2482/DS2483 I²C
// bridge (ds248x), a DS9097 style serial adapter (ds9097) or a simulated
// bus (sim).
//
// Settings come from flags, then THERMOWIRE_ environment variables, then
// the JSON configuration file, then built-in defaults.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/spf13/cobra"
	"github.com/warthog618/config"
)

const version = "0.1.0"

func main() {
	a := &app{stderr: os.Stderr}
	err := newRootCmd(a).Execute()
	if err2 := a.teardown(); err == nil {
		err = err2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "thermowire:", err)
		os.Exit(1)
	}
}

// app is the state shared by the subcommands.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	stderr io.Writer

	bus   *owbus.Bus
	close func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "thermowire",
		Short:         "thermowire reads DS18B20 thermometers on a 1-wire bus",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringP("config-file", "c", "", "configuration file (default thermowire.json)")
	f.StringP("adapter", "a", "", "bus adapter: gpio, rpi, ds248x, ds9097 or sim")
	f.StringP("pin", "p", "", "data pin of the gpio and rpi adapters")
	f.String("i2c-bus", "", "I²C bus of the ds248x adapter")
	f.String("i2c-addr", "", "I²C address of the ds248x adapter")
	f.String("serial-port", "", "serial port of the ds9097 adapter")
	f.Duration("timeout", 0, "conversion timeout")
	f.Duration("poll", 0, "pause between conversion polls")
	f.Int("resolution", 0, "resolution to configure before reading, 9 to 12 bits")
	f.StringP("format", "f", "", "output format: text, json or cbor")
	f.String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newScanCmd(a),
		newReadCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVerifyCmd(a),
		newPlotCmd(a),
	)
	return root
}

// setup loads the configuration and opens the bus.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.MustGet("log.level").String())); err != nil {
		return err
	}
	a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: lvl}))
	a.bus, a.close, err = openBus(cfg, a.log)
	if err != nil {
		return err
	}
	a.log.Debug("opened", slog.String("bus", a.bus.String()))
	return nil
}

// teardown releases the bus.
func (a *app) teardown() error {
	if a.close == nil {
		return nil
	}
	err := a.close()
	a.close = nil
	return err
}
