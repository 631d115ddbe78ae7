// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/fogleman/gg"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/image/font/basicfont"
)

type plotOpts struct {
	samples       int
	interval      time.Duration
	out           string
	width, height int
	clock         clockwork.Clock
}

// series is the history of one sensor. Failed readings are NaN.
type series struct {
	name   string
	values []float64
}

func newPlotCmd(a *app) *cobra.Command {
	o := plotOpts{clock: clockwork.NewRealClock()}
	cmd := &cobra.Command{
		Use:     "plot [address]...",
		Short:   "Record temperatures and draw them as a PNG chart",
		Example: "  thermowire plot --samples 60 --interval 1m --out day.png",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			s, err := a.record(ctx, args, &o)
			if err != nil {
				return err
			}
			dc := renderPlot(s, o.interval, o.width, o.height)
			if err := dc.SavePNG(o.out); err != nil {
				return err
			}
			a.log.Info("plot", slog.String("file", o.out), slog.Int("samples", len(s[0].values)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&o.samples, "samples", "n", 30, "number of readings per sensor")
	cmd.Flags().DurationVarP(&o.interval, "interval", "i", 10*time.Second, "time between two readings")
	cmd.Flags().StringVarP(&o.out, "out", "o", "thermowire.png", "PNG file to write")
	cmd.Flags().IntVar(&o.width, "width", 640, "image width")
	cmd.Flags().IntVar(&o.height, "height", 360, "image height")
	return cmd
}

// record reads the sensors o.samples times. An interruption keeps what was
// recorded so far.
func (a *app) record(ctx context.Context, args []string, o *plotOpts) ([]series, error) {
	if o.samples < 2 {
		return nil, fmt.Errorf("at least 2 samples are needed, got %d", o.samples)
	}
	t, err := a.sensors(ctx, args)
	if err != nil {
		return nil, err
	}
	regs := t.All()
	s := make([]series, len(regs))
	for i := range regs {
		s[i].name = regs[i].Name
	}
	tick := o.clock.NewTicker(o.interval)
	defer tick.Stop()
	for n := 0; n < o.samples; n++ {
		if n != 0 {
			select {
			case <-ctx.Done():
				return s, nil
			case <-tick.Chan():
			}
		}
		for i, r := range t.ReadAll(ctx, o.clock.Now) {
			v := math.NaN()
			if r.Err == nil {
				v = r.Temperature.Celsius()
			} else {
				a.log.Warn("read", slog.String("sensor", r.Name), slog.String("err", r.Err.Error()))
			}
			s[i].values = append(s[i].values, v)
		}
	}
	return s, nil
}

var plotColors = []color.NRGBA{
	{0xd6, 0x27, 0x28, 0xff},
	{0x1f, 0x77, 0xb4, 0xff},
	{0x2c, 0xa0, 0x2c, 0xff},
	{0xff, 0x7f, 0x0e, 0xff},
	{0x94, 0x67, 0xbd, 0xff},
}

// renderPlot draws one line per series over a grid labelled in °C, with
// the time axis in units of interval.
func renderPlot(s []series, interval time.Duration, w, h int) *gg.Context {
	const margin = 48.0
	lo, hi, n := math.Inf(1), math.Inf(-1), 0
	for i := range s {
		n = max(n, len(s[i].values))
		for _, v := range s[i].values {
			if !math.IsNaN(v) {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
	}
	if lo > hi {
		lo, hi = 0, 1
	}
	lo, hi = math.Floor(lo)-1, math.Ceil(hi)+1

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)
	pw, ph := float64(w)-2*margin, float64(h)-2*margin
	x := func(i int) float64 { return margin + pw*float64(i)/float64(max(n-1, 1)) }
	y := func(v float64) float64 { return margin + ph*(hi-v)/(hi-lo) }

	// Grid and labels.
	dc.SetLineWidth(1)
	step := math.Max(1, math.Ceil((hi-lo)/8))
	for v := lo; v <= hi; v += step {
		dc.SetRGB(0.85, 0.85, 0.85)
		dc.DrawLine(margin, y(v), margin+pw, y(v))
		dc.Stroke()
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringAnchored(fmt.Sprintf("%g°C", v), margin-4, y(v), 1, 0.5)
	}
	dc.DrawStringAnchored("0", x(0), margin+ph+14, 0.5, 0.5)
	dc.DrawStringAnchored((time.Duration(max(n-1, 0)) * interval).String(), x(n-1), margin+ph+14, 0.5, 0.5)

	lx := margin
	for i := range s {
		c := plotColors[i%len(plotColors)]
		dc.SetColor(c)
		dc.SetLineWidth(2)
		drawing := false
		for j, v := range s[i].values {
			if math.IsNaN(v) {
				if drawing {
					dc.Stroke()
				}
				drawing = false
				continue
			}
			if drawing {
				dc.LineTo(x(j), y(v))
			} else {
				dc.MoveTo(x(j), y(v))
				drawing = true
			}
		}
		if drawing {
			dc.Stroke()
		}
		dc.DrawStringAnchored(s[i].name, lx, margin/2, 0, 0.5)
		tw, _ := dc.MeasureString(s[i].name)
		lx += tw + 16
	}
	return dc
}
