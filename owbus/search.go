// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/GermanBionicSystems/thermowire/common"
	"periph.io/x/conn/v3/onewire"
)

// searchState is the resumable position of the ROM search tree walk.
//
// Bit positions are 1-based, 0 meaning none.
type searchState struct {
	lastDiscrepancy       uint8   // deepest branch point where 0 was taken
	lastFamilyDiscrepancy uint8   // same, restricted to the family code byte
	lastDevice            bool    // every device has been visited
	rom                   [8]byte // ROM of the last device found
}

func (s *searchState) reset() {
	s.lastDiscrepancy = 0
	s.lastFamilyDiscrepancy = 0
	s.lastDevice = false
}

// First resets the search state and returns the first device of the bus.
func (b *Bus) First() (onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.search.reset()
	return b.walk(SearchROM)
}

// Next continues the search from the last device found.
//
// It returns ErrNoMoreDevices once every device has been returned.
func (b *Bus) Next() (onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.walk(SearchROM)
}

// FirstAlarm is First restricted to devices with an alarm condition.
func (b *Bus) FirstAlarm() (onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.search.reset()
	return b.walk(AlarmSearch)
}

// NextAlarm is Next restricted to devices with an alarm condition.
func (b *Bus) NextAlarm() (onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.walk(AlarmSearch)
}

// ROM returns the ROM of the device found by the last successful search.
func (b *Bus) ROM() onewire.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return getAddress(b.search.rom[:])
}

// TargetSetup prepares the search state so the next call to Next returns the
// first device of the family, if any.
//
// When no device of the family is present, Next returns a device of another
// family; compare the family code of the result.
func (b *Bus) TargetSetup(family byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.search.rom = [8]byte{family}
	b.search.lastDiscrepancy = 64
	b.search.lastFamilyDiscrepancy = 0
	b.search.lastDevice = false
}

// FamilySkipSetup prepares the search state so the next call to Next skips
// every remaining device of the family just returned.
func (b *Bus) FamilySkipSetup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.search.lastDiscrepancy = b.search.lastFamilyDiscrepancy
	b.search.lastFamilyDiscrepancy = 0
	if b.search.lastDiscrepancy == 0 {
		b.search.lastDevice = true
	}
}

// Verify returns true if the device found by the last successful search is
// still on the bus.
//
// The search state is left untouched so an enumeration in progress can
// continue.
func (b *Bus) Verify() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verify()
}

// Present returns true if the device with the given ROM answers a search.
//
// Like Verify it does not disturb the search state.
func (b *Bus) Present(addr onewire.Address) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	saved := b.search
	defer func() { b.search = saved }()
	putAddress(b.search.rom[:], addr)
	return b.verify()
}

// Search performs a complete enumeration of the bus and returns the
// addresses of all devices, or only of those with an alarm condition if
// alarmOnly is true.
//
// Search implements onewire.Bus. It leaves the search state used by
// First/Next as it was. If an error occurs the already discovered devices are
// returned with the error.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	saved := b.search
	defer func() { b.search = saved }()

	cmd := byte(SearchROM)
	if alarmOnly {
		cmd = AlarmSearch
	}
	b.search.reset()
	var devices []onewire.Address
	for {
		addr, err := b.walk(cmd)
		if err == ErrNoMoreDevices {
			return devices, nil
		}
		if err != nil {
			if alarmOnly && len(devices) == 0 && err == ErrSearchAborted {
				// Devices are present but none is in alarm.
				return nil, nil
			}
			return devices, err
		}
		if !checkROM(b.search.rom) {
			return devices, busError(fmt.Sprintf("owbus: CRC error during search, addr=%#016x", uint64(addr)))
		}
		devices = append(devices, addr)
	}
}

// SearchTriplet performs a single bit search triplet on the bus: read the
// bit, read its complement and write the direction.
//
// SearchTriplet implements onewire.BusSearcher, it should not be used
// directly, use Search or First/Next instead.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triplet(direction)
}

//

// walk performs one pass down the ROM search tree with the given command and
// returns the device it ends at.
func (b *Bus) walk(cmd byte) (onewire.Address, error) {
	s := &b.search
	if s.lastDevice {
		s.reset()
		return 0, ErrNoMoreDevices
	}
	if err := b.reset(); err != nil {
		s.reset()
		return 0, err
	}
	if err := b.writeByte(cmd); err != nil {
		s.reset()
		return 0, err
	}

	// The family discrepancy is recomputed along the path of this walk; a
	// value left by an earlier walk may point at a branch already taken.
	s.lastFamilyDiscrepancy = 0
	var lastZero uint8
	for id := uint8(1); id <= 64; id++ {
		n, mask := (id-1)>>3, byte(1)<<((id-1)&7)
		// Direction to take if devices disagree at this position.
		var dir byte
		if id < s.lastDiscrepancy {
			// Before the last branch point: follow the previous path.
			if s.rom[n]&mask != 0 {
				dir = 1
			}
		} else if id == s.lastDiscrepancy {
			// At the last branch point: 0 was taken last time, take 1.
			dir = 1
		}
		tr, err := b.triplet(dir)
		if err != nil {
			s.reset()
			return 0, err
		}
		if !tr.GotZero && !tr.GotOne {
			s.reset()
			return 0, ErrSearchAborted
		}
		if tr.GotZero && tr.GotOne && tr.Taken == 0 {
			lastZero = id
			if lastZero < 9 {
				s.lastFamilyDiscrepancy = lastZero
			}
		}
		if tr.Taken != 0 {
			s.rom[n] |= mask
		} else {
			s.rom[n] &^= mask
		}
	}

	s.lastDiscrepancy = lastZero
	s.lastDevice = lastZero == 0
	if s.rom[0] == 0 {
		s.reset()
		return 0, ErrSearchAborted
	}
	addr := getAddress(s.rom[:])
	b.log.Debug("search", slog.String("rom", fmt.Sprintf("%#016x", uint64(addr))), slog.Bool("last", s.lastDevice))
	return addr, nil
}

// triplet performs the search triplet in software unless the line driver
// does it natively.
func (b *Bus) triplet(dir byte) (onewire.TripletResult, error) {
	if t, ok := b.slots.(TripletSlots); ok {
		return t.Triplet(dir)
	}
	id, err := b.slots.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	cmp, err := b.slots.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	// A device with a 0 at this position pulls the first read low, a device
	// with a 1 pulls the complement low.
	tr := onewire.TripletResult{GotZero: !id, GotOne: !cmp}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = dir
	case tr.GotOne:
		tr.Taken = 1
	case tr.GotZero:
		tr.Taken = 0
	default:
		return tr, nil
	}
	return tr, b.slots.WriteBit(tr.Taken != 0)
}

// verify repeats the walk biased toward the held ROM and compares.
func (b *Bus) verify() (bool, error) {
	saved := b.search
	defer func() { b.search = saved }()
	if !checkROM(saved.rom) {
		return false, errors.New("owbus: no valid ROM to verify")
	}
	b.search.lastDiscrepancy = 64
	b.search.lastDevice = false
	_, err := b.walk(SearchROM)
	if err != nil {
		if err == ErrSearchAborted || IsNoDevices(err) {
			return false, nil
		}
		return false, err
	}
	return b.search.rom == saved.rom, nil
}

// checkROM returns true if the ROM carries a valid CRC and a family code.
func checkROM(rom [8]byte) bool {
	return rom[0] != 0 && common.CheckCRC8(rom[:])
}
