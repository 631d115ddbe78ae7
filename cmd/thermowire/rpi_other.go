// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package main

import (
	"errors"
	"log/slog"

	"github.com/GermanBionicSystems/thermowire/owbus"
)

func openRPi(pin int, log *slog.Logger) (*owbus.Bus, func() error, error) {
	return nil, nil, errors.New("the rpi adapter is only available on linux")
}
