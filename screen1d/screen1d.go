// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen1d renders a row of temperatures as coloured cells on a
// terminal using ANSI color codes.
//
// Cold readings are blue, hot readings red. It also implements a 1 pixel
// high display.Drawer.
package screen1d

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of cells.
	X int
	// Min and Max are the ends of the colour scale.
	Min, Max physic.Temperature
	Palette  *ansi256.Palette
	// W receives the output. nil means stdout.
	W io.Writer

	_ struct{}
}

// DefaultOpts covers the DS18B20 operating range.
var DefaultOpts = Opts{
	X:   1,
	Min: physic.ZeroCelsius - 10*physic.Celsius,
	Max: physic.ZeroCelsius + 40*physic.Celsius,
}

// Cell is one reading to display.
type Cell struct {
	Temp physic.Temperature
	// Valid is false for a sensor that failed; it is drawn black.
	Valid bool
}

// Dev is a strip of coloured cells on the console.
type Dev struct {
	w        io.Writer
	min, max physic.Temperature
	palette  ansi256.Palette

	pixels []color.NRGBA
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.X <= 0 {
		return nil, fmt.Errorf("screen1d: invalid width %d", opts.X)
	}
	if opts.Max <= opts.Min {
		return nil, fmt.Errorf("screen1d: empty scale %s..%s", opts.Min, opts.Max)
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       opts.W,
		min:     opts.Min,
		max:     opts.Max,
		palette: *p,
		pixels:  make([]color.NRGBA, opts.X),
	}
	if d.w == nil {
		d.w = colorable.NewColorableStdout()
	}
	return d, nil
}

func (d *Dev) String() string {
	return "Screen1D"
}

// Halt implements conn.Resource.
//
// It resets the terminal colours.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Show draws one cell per reading followed by the values in °C, printed
// with as many decimals as the reading carries.
//
// Readings beyond the width are ignored.
func (d *Dev) Show(cells []Cell) error {
	for i := range d.pixels {
		d.pixels[i] = color.NRGBA{A: 255}
		if i < len(cells) && cells[i].Valid {
			d.pixels[i] = Color(cells[i].Temp, d.min, d.max)
		}
	}
	d.buf.Reset()
	d.paint()
	for i, c := range cells {
		if i == len(d.pixels) {
			break
		}
		if c.Valid {
			d.buf.WriteString(" " + strconv.FormatFloat(c.Temp.Celsius(), 'f', -1, 64) + "°C")
		} else {
			d.buf.WriteString(" ?")
		}
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: len(d.pixels), Y: 1}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	delta := r.Min.X - srcR.Min.X
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		d.pixels[sX+delta] = color.NRGBAModel.Convert(src.At(sX, srcR.Min.Y)).(color.NRGBA)
	}
	d.buf.Reset()
	d.paint()
	_, err := d.buf.WriteTo(d.w)
	return err
}

// paint appends the cells to buf.
func (d *Dev) paint() {
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, c := range d.pixels {
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m")
}

// Color maps t on a blue, green, red ramp between min and max.
func Color(t, min, max physic.Temperature) color.NRGBA {
	f := float64(t-min) / float64(max-min)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	if f < 0.5 {
		g := uint8(2 * f * 255)
		return color.NRGBA{G: g, B: 255 - g, A: 255}
	}
	r := uint8((2*f - 1) * 255)
	return color.NRGBA{R: r, G: 255 - r, A: 255}
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
