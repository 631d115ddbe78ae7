// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

import (
	"errors"
	"math/bits"
	"math/rand"
	"sort"
	"testing"

	"github.com/GermanBionicSystems/thermowire/owbus/owbustest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
)

func TestBus_byteRoundTrip(t *testing.T) {
	b := New(owbustest.NewNet(&owbustest.Loopback{}), nil)
	p, err := b.Reset()
	require.NoError(t, err)
	require.True(t, p)
	for v := 0; v < 256; v++ {
		require.NoError(t, b.WriteByte(byte(v)))
		got, err := b.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, byte(v), got)
	}
}

func TestBus_String(t *testing.T) {
	b := New(owbustest.NewNet(), nil)
	assert.Equal(t, "OneWire{owbustest}", b.String())
	assert.NoError(t, b.Halt())
}

func TestBus_Tx_noDevice(t *testing.T) {
	b := New(owbustest.NewNet(), nil)
	err := b.Tx([]byte{SkipROM, 0x44}, nil, onewire.WeakPullup)
	require.Error(t, err)
	assert.True(t, IsNoDevices(err))
	var be onewire.BusError
	assert.True(t, errors.As(err, &be))
}

func TestBus_lineFailure(t *testing.T) {
	n := owbustest.NewNet(&owbustest.Loopback{})
	fail := errors.New("gpio gone")
	n.Fail = fail
	b := New(n, nil)
	assert.ErrorIs(t, b.Tx([]byte{1}, nil, onewire.WeakPullup), fail)
	_, err := b.First()
	assert.ErrorIs(t, err, fail)
	_, err = b.ReadByte()
	assert.ErrorIs(t, err, fail)
}

func TestBus_ReadROM(t *testing.T) {
	rom := owbustest.MakeROM(0x28, 0x070e41ac)
	n := owbustest.NewNet(owbustest.NewDS18B20(rom))
	b := New(n, nil)
	got, err := b.ReadROM()
	require.NoError(t, err)
	assert.Equal(t, rom, got)

	n.Attach(owbustest.NewDS18B20(owbustest.MakeROM(0x28, 0x1234)))
	_, err = b.ReadROM()
	assert.Error(t, err)
}

func TestBus_Search_complete(t *testing.T) {
	for _, count := range []int{1, 2, 5, 17} {
		roms := randomROMs(int64(count), count, 0x28, 0x10, 0x22)
		b := New(netOf(roms), nil)

		var seen []onewire.Address
		addr, err := b.First()
		for err == nil {
			seen = append(seen, addr)
			assert.Equal(t, addr, b.ROM())
			addr, err = b.Next()
		}
		require.Equal(t, ErrNoMoreDevices, err)
		assert.ElementsMatch(t, roms, seen)
		assertOrdered(t, seen)

		// The state was reset by exhaustion: Next starts over.
		addr, err = b.Next()
		require.NoError(t, err)
		assert.Equal(t, seen[0], addr)

		all, err := b.Search(false)
		require.NoError(t, err)
		assert.Equal(t, seen, all)

		// The generic periph walk agrees.
		generic, err := onewire.Search(b, false)
		require.NoError(t, err)
		assert.ElementsMatch(t, roms, generic)
	}
}

func TestBus_Search_keepsState(t *testing.T) {
	roms := randomROMs(3, 4, 0x28)
	b := New(netOf(roms), nil)
	first, err := b.First()
	require.NoError(t, err)
	_, err = b.Search(false)
	require.NoError(t, err)
	second, err := b.Next()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestBus_TargetSetup(t *testing.T) {
	roms := randomROMs(42, 12, 0x10, 0x28, 0x22)
	b := New(netOf(roms), nil)
	var want []onewire.Address
	for _, r := range roms {
		if byte(r) == 0x28 {
			want = append(want, r)
		}
	}
	require.NotEmpty(t, want)

	b.TargetSetup(0x28)
	var got []onewire.Address
	for {
		addr, err := b.Next()
		if err == ErrNoMoreDevices {
			break
		}
		require.NoError(t, err)
		if byte(addr) != 0x28 {
			break
		}
		got = append(got, addr)
	}
	assert.ElementsMatch(t, want, got)
	assertOrdered(t, got)
}

func TestBus_TargetSetup_absent(t *testing.T) {
	b := New(netOf(randomROMs(1, 3, 0x10)), nil)
	b.TargetSetup(0x28)
	addr, err := b.Next()
	if err == nil {
		assert.NotEqual(t, byte(0x28), byte(addr))
	}
}

func TestBus_FamilySkipSetup(t *testing.T) {
	roms := randomROMs(7, 12, 0x10, 0x28, 0x22)
	b := New(netOf(roms), nil)
	families := map[byte]bool{}
	addr, err := b.First()
	for err == nil {
		f := byte(addr)
		assert.False(t, families[f], "family %#x revisited", f)
		families[f] = true
		b.FamilySkipSetup()
		addr, err = b.Next()
	}
	require.Equal(t, ErrNoMoreDevices, err)
	assert.Equal(t, map[byte]bool{0x10: true, 0x22: true, 0x28: true}, families)
}

func TestBus_FamilySkipSetup_single(t *testing.T) {
	// Skipping only one family must not revisit it, whatever was found
	// before it.
	roms := append(randomROMs(3, 1, 0x10), randomROMs(4, 6, 0x28)...)
	roms = append(roms, randomROMs(5, 2, 0x3b)...)
	b := New(netOf(roms), nil)
	var got []onewire.Address
	seen28 := 0
	addr, err := b.First()
	for ; err == nil; addr, err = b.Next() {
		if byte(addr) == 0x28 {
			seen28++
			require.Equal(t, 1, seen28, "family 0x28 revisited")
			b.FamilySkipSetup()
			continue
		}
		got = append(got, addr)
	}
	require.Equal(t, ErrNoMoreDevices, err)
	assert.ElementsMatch(t, append(roms[:1:1], roms[7:]...), got)
}

func TestBus_Verify(t *testing.T) {
	roms := randomROMs(9, 3, 0x28)
	devs := make([]*owbustest.DS18B20, len(roms))
	n := owbustest.NewNet()
	for i, r := range roms {
		devs[i] = owbustest.NewDS18B20(r)
		n.Attach(devs[i])
	}
	b := New(n, nil)

	_, err := b.Verify()
	assert.Error(t, err, "nothing to verify yet")

	first, err := b.First()
	require.NoError(t, err)
	ok, err := b.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, b.ROM())

	for i := range roms {
		if roms[i] == first {
			n.Detach(devs[i])
		}
	}
	ok, err = b.Verify()
	require.NoError(t, err)
	assert.False(t, ok)

	// The enumeration continues where it was.
	var rest []onewire.Address
	addr, err := b.Next()
	for err == nil {
		rest = append(rest, addr)
		addr, err = b.Next()
	}
	assert.Len(t, rest, 2)
	assert.NotContains(t, rest, first)

	ok, err = b.Present(first)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.Present(rest[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBus_AlarmSearch(t *testing.T) {
	roms := randomROMs(5, 4, 0x28)
	n := owbustest.NewNet()
	var hot *owbustest.DS18B20
	for i, r := range roms {
		d := owbustest.NewDS18B20(r)
		// 25°C is outside [TL, TH] only for the hot one.
		d.SetRegister(0x0191)
		d.SetRegisters(75, 10, 0x7f)
		if i == 2 {
			d.SetRegisters(20, 10, 0x7f)
			hot = d
		}
		n.Attach(d)
	}
	b := New(n, nil)

	addr, err := b.FirstAlarm()
	require.NoError(t, err)
	assert.Equal(t, hot.ROM, addr)
	_, err = b.NextAlarm()
	assert.Equal(t, ErrNoMoreDevices, err)

	all, err := b.Search(true)
	require.NoError(t, err)
	assert.Equal(t, []onewire.Address{hot.ROM}, all)

	hot.SetRegisters(75, 10, 0x7f)
	_, err = b.FirstAlarm()
	assert.Equal(t, ErrSearchAborted, err)
	all, err = b.Search(true)
	assert.NoError(t, err)
	assert.Empty(t, all)
}

func TestBus_Search_noDevice(t *testing.T) {
	b := New(owbustest.NewNet(), nil)
	_, err := b.First()
	assert.True(t, IsNoDevices(err))
	all, err := b.Search(false)
	assert.True(t, IsNoDevices(err))
	assert.Empty(t, all)
}

func TestBus_SelectSkip(t *testing.T) {
	rom := owbustest.MakeROM(0x28, 0xabcdef)
	d := owbustest.NewDS18B20(rom)
	b := New(owbustest.NewNet(d), nil)
	_, err := b.Reset()
	require.NoError(t, err)
	require.NoError(t, b.Select(rom))
	require.NoError(t, b.Write([]byte{0x4e, 30, 5, 0x1f}))
	th, tl, cfg := d.Registers()
	assert.Equal(t, int8(30), th)
	assert.Equal(t, int8(5), tl)
	assert.Equal(t, byte(0x1f), cfg)

	_, err = b.Reset()
	require.NoError(t, err)
	require.NoError(t, b.Skip())
	require.NoError(t, b.WriteByte(0xbe))
	var sp [9]byte
	require.NoError(t, b.Read(sp[:]))
	assert.Equal(t, d.Scratchpad(), sp)
}

func TestCheckROM(t *testing.T) {
	assert.True(t, checkROM([8]byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0, 0, 0x74}))
	assert.False(t, checkROM([8]byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0, 0, 0x75}))
	assert.False(t, checkROM([8]byte{}))
}

//

func randomROMs(seed int64, n int, families ...byte) []onewire.Address {
	r := rand.New(rand.NewSource(seed))
	seen := map[onewire.Address]bool{}
	var out []onewire.Address
	for len(out) < n {
		a := owbustest.MakeROM(families[len(out)%len(families)], r.Uint64()&0xffffffffffff)
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func netOf(roms []onewire.Address) *owbustest.Net {
	n := owbustest.NewNet()
	for _, r := range roms {
		n.Attach(owbustest.NewDS18B20(r))
	}
	return n
}

// assertOrdered checks the search order: 0 branches are taken first, least
// significant bit first.
func assertOrdered(t *testing.T, a []onewire.Address) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(a, func(i, j int) bool {
		return bits.Reverse64(uint64(a[i])) < bits.Reverse64(uint64(a[j]))
	}))
}
