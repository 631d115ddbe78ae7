// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"
)

type scanOpts struct {
	alarm      bool
	family     string
	skipFamily string
}

func newScanCmd(a *app) *cobra.Command {
	var o scanOpts
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the devices on the bus",
		Example: `  thermowire scan
  thermowire scan --family 0x28
  thermowire scan --alarm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scan(cmd, &o)
		},
	}
	cmd.Flags().BoolVar(&o.alarm, "alarm", false, "only list devices with an alarm condition")
	cmd.Flags().StringVar(&o.family, "family", "", "only list devices of this family code")
	cmd.Flags().StringVar(&o.skipFamily, "skip-family", "", "do not list devices of this family code")
	cmd.MarkFlagsMutuallyExclusive("alarm", "family")
	return cmd
}

func (a *app) scan(cmd *cobra.Command, o *scanOpts) error {
	p, err := newPrinter(cmd.OutOrStdout(), a.cfg.MustGet("format").String())
	if err != nil {
		return err
	}
	var found []onewire.Address
	switch {
	case o.family != "":
		f, err := parseFamily(o.family)
		if err != nil {
			return err
		}
		found, err = scanFamily(a.bus, f)
		if err != nil {
			return err
		}
	case o.skipFamily != "":
		f, err := parseFamily(o.skipFamily)
		if err != nil {
			return err
		}
		found, err = scanSkipping(a.bus, f)
		if err != nil {
			return err
		}
	default:
		found, err = a.bus.Search(o.alarm)
		if err != nil {
			return err
		}
	}
	a.log.Info("scan", slog.Int("found", len(found)))
	for _, addr := range found {
		if err := p.print(newDeviceRecord(addr)); err != nil {
			return err
		}
	}
	return nil
}

// scanFamily lists the devices of a single family.
func scanFamily(b *owbus.Bus, family byte) ([]onewire.Address, error) {
	var out []onewire.Address
	b.TargetSetup(family)
	for {
		addr, err := b.Next()
		if errors.Is(err, owbus.ErrNoMoreDevices) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if byte(addr) != family {
			return out, nil
		}
		out = append(out, addr)
	}
}

// scanSkipping lists every device except those of family, skipping the
// family's branch of the search tree as soon as one member is found.
func scanSkipping(b *owbus.Bus, family byte) ([]onewire.Address, error) {
	var out []onewire.Address
	addr, err := b.First()
	for ; err == nil; addr, err = b.Next() {
		if byte(addr) == family {
			b.FamilySkipSetup()
			continue
		}
		out = append(out, addr)
	}
	if errors.Is(err, owbus.ErrNoMoreDevices) {
		return out, nil
	}
	return nil, err
}

func parseFamily(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
