// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/onewire"
)

func TestMakeROM(t *testing.T) {
	a := MakeROM(0x28, 0x070e41ac)
	assert.Equal(t, onewire.Address(0x740000070e41ac28), a)
}

func TestNet_presence(t *testing.T) {
	n := NewNet()
	p, err := n.Reset()
	assert.Nil(t, err)
	assert.False(t, p)
	l := &Loopback{}
	n.Attach(l)
	p, err = n.Reset()
	assert.Nil(t, err)
	assert.True(t, p)
	n.Detach(l)
	p, _ = n.Reset()
	assert.False(t, p)
	assert.Equal(t, 3, n.Resets())
}

func TestNet_loopback(t *testing.T) {
	n := NewNet(&Loopback{})
	n.ResetPulse()
	for _, v := range []byte{0x00, 0xa5, 0x5a, 0xff} {
		for i := uint(0); i < 8; i++ {
			n.Slot(v&(1<<i) != 0)
		}
		var got byte
		for i := uint(0); i < 8; i++ {
			if n.Slot(true) {
				got |= 1 << i
			}
		}
		assert.Equal(t, v, got)
	}
}

func TestLine_reset(t *testing.T) {
	l := NewLine(NewNet(&Loopback{}), nil)
	assert.True(t, l.Read())
	assert.Nil(t, l.Low())
	assert.False(t, l.Read())
	l.Delay(480 * time.Microsecond)
	assert.Nil(t, l.Input())
	assert.True(t, l.Read())
	l.Delay(70 * time.Microsecond)
	assert.False(t, l.Read(), "presence pulse")
	l.Delay(410 * time.Microsecond)
	assert.True(t, l.Read())
	assert.Equal(t, 1, l.Net.Resets())
}

func TestLine_slots(t *testing.T) {
	l := NewLine(NewNet(&Loopback{}), nil)
	_ = l.Low()
	l.Delay(ResetMin)
	_ = l.Input()
	// Write 0 then read it back.
	_ = l.Low()
	l.Delay(65 * time.Microsecond)
	_ = l.Input()
	for i := 0; i < 7; i++ {
		_ = l.Low()
		l.Delay(10 * time.Microsecond)
		_ = l.Input()
		l.Delay(50 * time.Microsecond)
	}
	_ = l.Low()
	l.Delay(3 * time.Microsecond)
	_ = l.Input()
	l.Delay(5 * time.Microsecond)
	assert.False(t, l.Read())
	l.Delay(50 * time.Microsecond)
	assert.True(t, l.Read())
	assert.Equal(t, 9, l.Net.Slots())
}

func TestDS18B20_powerUp(t *testing.T) {
	d := NewDS18B20(MakeROM(0x28, 1))
	th, tl, cfg := d.Registers()
	assert.Equal(t, int8(75), th)
	assert.Equal(t, int8(70), tl)
	assert.Equal(t, byte(0x7f), cfg)
	assert.Equal(t, uint16(0x0550), d.Register())
	s := d.Scratchpad()
	assert.Equal(t, onewire.CalcCRC(s[:8]), s[8])
	assert.False(t, d.Alarm())
}

func TestDS18B20_scratchpadFixture(t *testing.T) {
	d := NewDS18B20(MakeROM(0x28, 1))
	d.SetRegister(0x0191)
	want := [9]byte{0x91, 0x01, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0x70}
	assert.Equal(t, want, d.Scratchpad())
	d.Corrupt = true
	s := d.Scratchpad()
	assert.NotEqual(t, onewire.CalcCRC(s[:8]), s[8])
}
