// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"log/slog"

	"github.com/GermanBionicSystems/thermowire/bitbang"
	"github.com/GermanBionicSystems/thermowire/owbus"
)

func openRPi(pin int, log *slog.Logger) (*owbus.Bus, func() error, error) {
	l, err := bitbang.FromRPi(pin)
	if err != nil {
		return nil, nil, err
	}
	o := bitbang.DefaultOpts
	o.Logger = log
	b, err := bitbang.NewBus(l, &o)
	if err != nil {
		bitbang.CloseRPi()
		return nil, nil, err
	}
	return b, bitbang.CloseRPi, nil
}
