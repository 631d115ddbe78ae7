// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/GermanBionicSystems/thermowire/owbus/owbustest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

func TestNew_timing(t *testing.T) {
	data := []struct {
		name string
		mod  func(o *Opts)
		ok   bool
	}{
		{"default", func(o *Opts) {}, true},
		{"short reset", func(o *Opts) { o.ResetLow = 400 * time.Microsecond }, false},
		{"late presence", func(o *Opts) { o.PresenceWait = 100 * time.Microsecond }, false},
		{"long write 1", func(o *Opts) { o.Write1Low = 15 * time.Microsecond }, false},
		{"short write 0", func(o *Opts) { o.Write0Low = 30 * time.Microsecond }, false},
		{"late read sample", func(o *Opts) { o.ReadSample = 12 * time.Microsecond }, false},
		{"no recovery", func(o *Opts) { o.Write0Recovery = 0 }, false},
		{"slow", func(o *Opts) { o.ResetLow = 600 * time.Microsecond; o.Write1Low = 6 * time.Microsecond }, true},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			o := DefaultOpts
			line.mod(&o)
			_, err := New(FromPin(&gpiotest.Pin{N: "GPIO4"}), &o)
			if line.ok != (err == nil) {
				t.Fatalf("ok=%t err=%v", line.ok, err)
			}
		})
	}
	if _, err := New(nil, nil); err == nil {
		t.Fatal("nil line")
	}
}

func TestDriver_sequences(t *testing.T) {
	l := &recorder{}
	o := DefaultOpts
	o.Delay = l.delay
	d, err := New(l, &o)
	if err != nil {
		t.Fatal(err)
	}
	l.ops = nil
	if p, err := d.Reset(); err != nil || p {
		t.Fatal(p, err)
	}
	if err := d.WriteBit(true); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBit(false); err != nil {
		t.Fatal(err)
	}
	if b, err := d.ReadBit(); err != nil || !b {
		t.Fatal(b, err)
	}
	want := []string{
		"out", "low", "480µs", "in", "70µs", "read", "410µs",
		"out", "low", "10µs", "in", "50µs",
		"out", "low", "65µs", "in", "5µs",
		"out", "low", "3µs", "in", "5µs", "read", "50µs",
	}
	if diff := cmp.Diff(want, l.ops); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	// Released through Input, never driven high.
	l.ops = nil
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"in"}, l.ops); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDriver_pin(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO4"}
	o := DefaultOpts
	o.Delay = func(time.Duration) {}
	d, err := New(FromPin(p), &o)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "bitbang(GPIO4(0))" {
		t.Fatal(s)
	}
	// Nothing pulls the line down: no presence, reads 1.
	if present, err := d.Reset(); err != nil || present {
		t.Fatal(present, err)
	}
	if b, err := d.ReadBit(); err != nil || !b {
		t.Fatal(b, err)
	}
	if err := d.WriteBit(false); err != nil {
		t.Fatal(err)
	}
	if p.P != gpio.PullUp || p.L != gpio.High {
		t.Fatalf("line not released: %s %s", p.P, p.L)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestDriver_lineError(t *testing.T) {
	l := &recorder{fail: errors.New("pin lost")}
	o := DefaultOpts
	o.Delay = l.delay
	d := &Driver{line: l, opts: o, log: slog.Default()}
	if _, err := d.Reset(); !errors.Is(err, l.fail) {
		t.Fatal(err)
	}
	if err := d.WriteBit(true); !errors.Is(err, l.fail) {
		t.Fatal(err)
	}
	if _, err := d.ReadBit(); !errors.Is(err, l.fail) {
		t.Fatal(err)
	}
}

func TestBus_loopback(t *testing.T) {
	b, l := simBus(t, &owbustest.Loopback{})
	if p, err := b.Reset(); err != nil || !p {
		t.Fatal(p, err)
	}
	start := l.Clock.Now()
	for v := 0; v < 256; v++ {
		if err := b.WriteByte(byte(v)); err != nil {
			t.Fatal(err)
		}
		got, err := b.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if got != byte(v) {
			t.Fatalf("%#02x != %#02x", got, v)
		}
	}
	if e := l.Clock.Since(start); e < 256*16*58*time.Microsecond {
		t.Fatalf("slots too short: %s", e)
	}
}

func TestBus_search(t *testing.T) {
	var devs []owbustest.Device
	var want []onewire.Address
	for i := uint64(1); i <= 4; i++ {
		a := owbustest.MakeROM(0x28, i*0x10203)
		want = append(want, a)
		devs = append(devs, owbustest.NewDS18B20(a))
	}
	b, _ := simBus(t, devs...)
	got, err := b.Search(false)
	if err != nil {
		t.Fatal(err)
	}
	less := func(a, b onewire.Address) bool { return a < b }
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(less)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestBus_noDevice(t *testing.T) {
	b, _ := simBus(t)
	if p, err := b.Reset(); err != nil || p {
		t.Fatal(p, err)
	}
	if err := b.Tx([]byte{0xcc, 0x44}, nil, onewire.WeakPullup); err == nil {
		t.Fatal("expected error")
	} else if nd, ok := err.(onewire.NoDevicesError); !ok || !nd.NoDevices() {
		t.Fatalf("unexpected error: %v", err)
	}
}

//

func simBus(t *testing.T, d ...owbustest.Device) (*owbus.Bus, *owbustest.Line) {
	l := owbustest.NewLine(owbustest.NewNet(d...), nil)
	o := DefaultOpts
	o.Delay = l.Delay
	b, err := NewBus(l, &o)
	if err != nil {
		t.Fatal(err)
	}
	return b, l
}

// recorder is a Line logging every call.
type recorder struct {
	ops  []string
	fail error
}

func (r *recorder) String() string { return "recorder" }
func (r *recorder) Output() error  { r.ops = append(r.ops, "out"); return r.fail }
func (r *recorder) Input() error   { r.ops = append(r.ops, "in"); return r.fail }
func (r *recorder) Low() error     { r.ops = append(r.ops, "low"); return r.fail }
func (r *recorder) High() error    { r.ops = append(r.ops, "high"); return r.fail }
func (r *recorder) Read() bool     { r.ops = append(r.ops, "read"); return true }
func (r *recorder) delay(d time.Duration) {
	r.ops = append(r.ops, d.String())
}
