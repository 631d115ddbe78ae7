// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds248x controls a Maxim DS2482-100, DS2482-800 or DS2483 1-wire
// interface chip over I²C.
//
// The chip generates the 1-wire time slots in hardware, including the search
// triplet, which frees the host from the microsecond timing a bit-banged line
// needs. Dev exposes the slots to owbus, on top of which the ROM search and
// the DS18B20 driver run unchanged.
//
// # Datasheets
//
// https://www.maximintegrated.com/en/products/interface/controllers-expanders/DS2482-100.html
//
// https://www.maximintegrated.com/en/products/interface/controllers-expanders/DS2483.html
package ds248x
