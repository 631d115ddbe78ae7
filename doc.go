// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermowire is a container for a 1-wire bus master and the DS18B20
// thermometer driver built on it.
//
// owbus owns the bus: byte primitives, ROM addressing and the ROM search.
// It drives any line driver exposing reset, write and read slots: bitbang
// times the slots on a GPIO pin, ds248x delegates them to a DS2482/DS2483
// I²C bridge and ds9097 to a serial adapter.
//
// ds18b20 talks to the thermometer and tempsensor turns a conversion into a
// single blocking read bounded by a timeout.
package thermowire
