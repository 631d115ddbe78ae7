// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

// Loopback is a device that receives one byte then sends it back.
type Loopback struct {
	v    byte
	n    int
	echo bool
}

// Reset implements Device.
func (l *Loopback) Reset() bool {
	l.v, l.n, l.echo = 0, 0, false
	return true
}

// Drive implements Device.
func (l *Loopback) Drive() bool {
	if !l.echo {
		return true
	}
	return l.v&(1<<uint(l.n)) != 0
}

// Slot implements Device.
func (l *Loopback) Slot(level bool) {
	if !l.echo {
		if level {
			l.v |= 1 << uint(l.n)
		} else {
			l.v &^= 1 << uint(l.n)
		}
	}
	if l.n++; l.n == 8 {
		l.n = 0
		l.echo = !l.echo
	}
}
