// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/GermanBionicSystems/thermowire/screen1d"
	"github.com/GermanBionicSystems/thermowire/tempsensor"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

type watchOpts struct {
	interval time.Duration
	count    int
	strip    bool
	clock    clockwork.Clock
}

func newWatchCmd(a *app) *cobra.Command {
	o := watchOpts{clock: clockwork.NewRealClock()}
	cmd := &cobra.Command{
		Use:   "watch [address]...",
		Short: "Read thermometers periodically",
		Example: `  thermowire watch --interval 10s
  thermowire watch --strip 28-0000070e41ac 28-0000070e41ad`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.watch(ctx, cmd, args, &o)
		},
	}
	cmd.Flags().DurationVarP(&o.interval, "interval", "i", 5*time.Second, "time between two readings")
	cmd.Flags().IntVarP(&o.count, "count", "n", 0, "stop after this many rounds, 0 runs until interrupted")
	cmd.Flags().BoolVar(&o.strip, "strip", false, "show a colour strip instead of records")
	return cmd
}

func (a *app) watch(ctx context.Context, cmd *cobra.Command, args []string, o *watchOpts) error {
	t, err := a.sensors(ctx, args)
	if err != nil {
		return err
	}
	var show func([]tempsensor.Reading) error
	if o.strip {
		so := screen1d.DefaultOpts
		so.X = len(t.All())
		so.W = cmd.OutOrStdout()
		s, err := screen1d.New(&so)
		if err != nil {
			return err
		}
		defer s.Halt()
		show = func(r []tempsensor.Reading) error {
			cells := make([]screen1d.Cell, len(r))
			for i := range r {
				cells[i] = screen1d.Cell{Temp: r[i].Temperature, Valid: r[i].Err == nil}
			}
			return s.Show(cells)
		}
	} else {
		p, err := newPrinter(cmd.OutOrStdout(), a.cfg.MustGet("format").String())
		if err != nil {
			return err
		}
		show = func(r []tempsensor.Reading) error {
			for i := range r {
				if err := p.print(newReadingRecord(r[i])); err != nil {
					return err
				}
			}
			return nil
		}
	}

	tick := o.clock.NewTicker(o.interval)
	defer tick.Stop()
	for n := 0; o.count == 0 || n < o.count; n++ {
		if n != 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.Chan():
			}
		}
		r := t.ReadAll(ctx, o.clock.Now)
		for i := range r {
			if r[i].Err != nil {
				a.log.Warn("read", slog.String("sensor", r[i].Name), slog.String("err", r[i].Err.Error()))
			}
		}
		if err := show(r); err != nil {
			return err
		}
	}
	return nil
}
