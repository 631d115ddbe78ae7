// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

import (
	"errors"

	"periph.io/x/conn/v3/onewire"
)

// ErrNoMoreDevices is returned by Next once every device has been visited.
// The search state is reset, so the following call starts over.
var ErrNoMoreDevices = errors.New("owbus: no more devices")

// ErrSearchAborted is returned when no device answered a search slot, which
// happens when devices disappear from the bus mid-search or, for an alarm
// search, when no device has an alarm condition.
var ErrSearchAborted error = busError("owbus: no device answered during search")

// noDevicesError implements error and onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }
func (e noDevicesError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// IsNoDevices returns true if err reports a missing presence pulse.
func IsNoDevices(err error) bool {
	var nd onewire.NoDevicesError
	return errors.As(err, &nd) && nd.NoDevices()
}

var _ onewire.NoDevicesError = noDevicesError("")
var _ onewire.BusError = noDevicesError("")
var _ onewire.BusError = busError("")
