// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds248x

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/onewire"
)

func TestNew_ds2483(t *testing.T) {
	bus := i2ctest.Playback{Ops: initDS2483()}
	d, err := New(&bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "DS2483{playback(24)}" {
		t.Fatal(s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_ds2482x100(t *testing.T) {
	ops := initCommon()
	// Neither the port configuration nor the channel selection register
	// exist; the next op is the reset below.
	ops = append(ops, i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, i2ctest.IO{Addr: 0x18, R: []byte{0x02}})
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := New(&bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.variant != isDS2482x100 {
		t.Fatal(d.variant)
	}
	if p, err := d.Reset(); err != nil || !p {
		t.Fatal(p, err)
	}
	if ch, err := d.SelectedChannel(); err != nil || ch != 0 {
		t.Fatal(ch, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_errors(t *testing.T) {
	if _, err := New(&i2ctest.Playback{}, 0x30, nil); err == nil {
		t.Fatal("invalid address")
	}
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x18, W: []byte{cmdReset}},
			{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x00}},
		},
	}
	if _, err := New(&bus, 0x18, nil); err == nil {
		t.Fatal("invalid status register")
	}
}

func TestDev_slots(t *testing.T) {
	ops := append(initDS2483(),
		// Reset with presence.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x01}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x02}},
		// Read bit 1.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WBit, 0x80}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x20}},
		// Write bit 0.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WBit, 0x00}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
		// Write byte.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, 0x44}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
		// Read byte.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WRead}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmdSetReadPtr, regRDR}, R: []byte{0x5a}},
		// Triplet where only devices with a 1 answered.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WTriplet, 0x00}},
		i2ctest.IO{Addr: 0x18, R: []byte{0xa0}},
		// Shorted reset.
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x06}},
	)
	bus := i2ctest.Playback{Ops: ops}
	d, err := New(&bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p, err := d.Reset(); err != nil || !p {
		t.Fatal(p, err)
	}
	if b, err := d.ReadBit(); err != nil || !b {
		t.Fatal(b, err)
	}
	if err := d.WriteBit(false); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteByte(0x44); err != nil {
		t.Fatal(err)
	}
	if b, err := d.ReadByte(); err != nil || b != 0x5a {
		t.Fatal(b, err)
	}
	tr, err := d.Triplet(0)
	if err != nil {
		t.Fatal(err)
	}
	if want := (onewire.TripletResult{GotOne: true, Taken: 1}); tr != want {
		t.Fatalf("%#v != %#v", tr, want)
	}
	_, err = d.Reset()
	if s, ok := err.(onewire.ShortedBusError); !ok || !s.IsShorted() {
		t.Fatalf("expected shorted bus, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_persistentError(t *testing.T) {
	ops := append(initDS2483(), i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}})
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := New(&bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The status read is not in the playback: the i2c error sticks.
	if _, err := d.Reset(); err == nil {
		t.Fatal("expected error")
	}
	first := d.err
	if err := d.WriteByte(0); !errors.Is(err, first) {
		t.Fatal(err)
	}
	if _, err := d.ReadBit(); !errors.Is(err, first) {
		t.Fatal(err)
	}
}

func TestNewBus_Tx(t *testing.T) {
	ops := append(initDS2483(),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x02}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, owbus.SkipROM}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, 0x44}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}},
		i2ctest.IO{Addr: 0x18, R: []byte{0x00}},
	)
	bus := i2ctest.Playback{Ops: ops}
	b, err := NewBus(&bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Tx([]byte{owbus.SkipROM, 0x44}, nil, onewire.WeakPullup); err != nil {
		t.Fatal(err)
	}
	if err := b.Tx([]byte{owbus.SkipROM, 0x44}, nil, onewire.WeakPullup); !owbus.IsNoDevices(err) {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

//

func initCommon() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmdReset}},
		{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x18}},
		{Addr: 0x18, W: []byte{cmdWriteConfig, 0xe1}, R: []byte{0x01}},
	}
}

func initDS2483() []i2ctest.IO {
	return append(initCommon(),
		i2ctest.IO{Addr: 0x18, W: []byte{cmdSetReadPtr, regPCR}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmdAdjPort, 0x06, 0x26, 0x46, 0x66, 0x86}},
	)
}

func init() {
	sleep = func(time.Duration) {}
}
