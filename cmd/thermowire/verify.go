// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <address>...",
		Short: "Check that devices are present on the bus",
		Long: `Check that devices are present on the bus by walking the search tree
along their ROM code. The command fails if any device is absent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddrs(args)
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), a.cfg.MustGet("format").String())
			if err != nil {
				return err
			}
			missing := 0
			for _, addr := range addrs {
				ok, err := a.bus.Present(addr)
				if err != nil {
					return err
				}
				if !ok {
					missing++
				}
				r := newDeviceRecord(addr)
				r.Present = &ok
				if err := p.print(r); err != nil {
					return err
				}
			}
			if missing != 0 {
				return fmt.Errorf("%d of %d devices absent", missing, len(addrs))
			}
			return nil
		},
	}
}
