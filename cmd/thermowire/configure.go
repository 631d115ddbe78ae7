// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/GermanBionicSystems/thermowire/ds18b20"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration of a thermometer",
		Long: `Show or change the configuration of a thermometer.

Changes are written to the scratchpad and copied to the EEPROM, so they
survive a power cycle. Alarm thresholds are clamped to -55..125°C.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <address>",
			Short: "Print the resolution, alarm thresholds and power mode",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.showConfig(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:     "resolution <address> <bits>",
			Short:   "Set the resolution, 9 to 12 bits",
			Example: "  thermowire config resolution 28-0000070e41ac 10",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				bits, err := strconv.Atoi(args[1])
				if err != nil {
					return err
				}
				res, err := parseResolution(bits)
				if err != nil {
					return err
				}
				return a.configure(cmd, args[0], func(d *ds18b20.Dev) error {
					return d.SetResolution(res)
				})
			},
		},
		&cobra.Command{
			Use:     "alarm <address> <low> <high>",
			Short:   "Set the alarm thresholds in °C",
			Example: "  thermowire config alarm 28-0000070e41ac -- -5 30",
			Args:    cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				low, err := strconv.Atoi(args[1])
				if err != nil {
					return err
				}
				high, err := strconv.Atoi(args[2])
				if err != nil {
					return err
				}
				if low > high {
					return fmt.Errorf("low threshold %d is above high threshold %d", low, high)
				}
				return a.configure(cmd, args[0], func(d *ds18b20.Dev) error {
					if err := d.SetAlarmLow(low); err != nil {
						return err
					}
					return d.SetAlarmHigh(high)
				})
			},
		},
		&cobra.Command{
			Use:   "disable-alarm <address>",
			Short: "Set the thresholds so the alarm never triggers",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.configure(cmd, args[0], (*ds18b20.Dev).DisableAlarm)
			},
		},
		&cobra.Command{
			Use:   "recall <address>",
			Short: "Reload the configuration from the EEPROM",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.configure(cmd, args[0], (*ds18b20.Dev).Recall)
			},
		},
	)
	return cmd
}

// configure applies f to the thermometer and prints the resulting
// configuration.
func (a *app) configure(cmd *cobra.Command, addr string, f func(d *ds18b20.Dev) error) error {
	d, err := a.dev(addr)
	if err != nil {
		return err
	}
	if err := f(d); err != nil {
		return err
	}
	return a.printConfig(cmd, d)
}

func (a *app) showConfig(cmd *cobra.Command, addr string) error {
	d, err := a.dev(addr)
	if err != nil {
		return err
	}
	return a.printConfig(cmd, d)
}

func (a *app) printConfig(cmd *cobra.Command, d *ds18b20.Dev) error {
	r, err := d.Registers()
	if err != nil {
		return err
	}
	ext, err := d.ExternallyPowered()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd.OutOrStdout(), a.cfg.MustGet("format").String())
	if err != nil {
		return err
	}
	return p.print(registersRecord{
		Address:    formatAddr(d.Addr()),
		Resolution: int(r.Resolution()),
		High:       r.TH,
		Low:        r.TL,
		External:   ext,
	})
}

func parseResolution(bits int) (ds18b20.Resolution, error) {
	if bits < int(ds18b20.Res9) || bits > int(ds18b20.Res12) {
		return 0, fmt.Errorf("invalid resolution %d, want 9 to 12 bits", bits)
	}
	return ds18b20.Resolution(bits), nil
}
