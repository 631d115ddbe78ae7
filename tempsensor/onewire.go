// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tempsensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/thermowire/ds18b20"
	"github.com/GermanBionicSystems/thermowire/owbus"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Opts contains options for OneWire.
type Opts struct {
	// Addr selects the device; 0 binds the first DS18B20 found.
	Addr onewire.Address
	// Resolution to configure on Init; 0 keeps the device setting.
	Resolution ds18b20.Resolution
	// Timeout bounds the wait for a conversion; 0 means 2s.
	Timeout time.Duration
	// PollInterval is the pause between two polls; 0 polls back to back.
	PollInterval time.Duration
	// CRCRetries is how many corrupted transfers are read again before
	// giving up; 0 means 2, a negative value disables retries.
	CRCRetries int
	// Clock measures the timeout. nil means the real clock.
	Clock clockwork.Clock
	// Logger receives diagnostics. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Timeout:      2 * time.Second,
	PollInterval: time.Millisecond,
	CRCRetries:   2,
}

// NewOneWire returns a sensor reading a DS18B20 on bus.
//
// Zero fields of opts take their value from DefaultOpts, except PollInterval.
func NewOneWire(bus *owbus.Bus, opts *Opts) (*OneWire, error) {
	if bus == nil {
		return nil, errors.New("tempsensor: nil bus")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	s := &OneWire{bus: bus, opts: *opts}
	if s.opts.Timeout <= 0 {
		s.opts.Timeout = DefaultOpts.Timeout
	}
	if s.opts.CRCRetries == 0 {
		s.opts.CRCRetries = DefaultOpts.CRCRetries
	}
	if s.opts.Clock == nil {
		s.opts.Clock = clockwork.NewRealClock()
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	s.log = l.With(slog.String("source", "tempsensor"), slog.String("bus", bus.String()))
	return s, nil
}

// OneWire is a DS18B20 thermometer on a 1-wire bus.
type OneWire struct {
	bus  *owbus.Bus
	opts Opts
	log  *slog.Logger

	mu  sync.Mutex
	dev *ds18b20.Dev
}

func (s *OneWire) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return s.bus.String()
	}
	return s.dev.String()
}

// Dev returns the bound device, nil before Init.
func (s *OneWire) Dev() *ds18b20.Dev {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// Init searches the bus for the device and binds it.
func (s *OneWire) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := s.opts.Addr
	if addr == 0 {
		var err error
		if addr, err = s.find(); err != nil {
			return err
		}
	} else if err := ds18b20.Is(addr); err != nil {
		return err
	}
	d, err := ds18b20.New(s.bus, addr, &ds18b20.Opts{Resolution: s.opts.Resolution, Logger: s.opts.Logger})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dev = d
	s.mu.Unlock()
	s.log.Info("bound", slog.String("dev", d.String()))
	return nil
}

// Read starts a conversion on every device of the bus, then polls the bound
// device until its result is available or the timeout expires.
//
// The context is only checked between polls, never in the middle of a bus
// transaction.
func (s *OneWire) Read(ctx context.Context) (physic.Temperature, error) {
	d := s.Dev()
	if d == nil {
		return 0, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ds18b20.StartAll(s.bus); err != nil {
		return 0, err
	}
	clk := s.opts.Clock
	start := clk.Now()
	retries := 0
	for {
		t, err := d.Read()
		switch {
		case err == nil:
			return t, nil
		case errors.Is(err, ds18b20.ErrConversionInProgress):
		case errors.Is(err, ds18b20.ErrCRC) && retries < s.opts.CRCRetries:
			retries++
			s.log.Warn("retrying", slog.String("err", err.Error()), slog.Int("retry", retries))
		default:
			return 0, err
		}
		if e := clk.Since(start); e >= s.opts.Timeout {
			s.log.Warn("timeout", slog.Duration("elapsed", e))
			return 0, fmt.Errorf("%w after %s", ErrTimeout, e)
		}
		if s.opts.PollInterval > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-clk.After(s.opts.PollInterval):
			}
		} else if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// find returns the first DS18B20 of the bus.
func (s *OneWire) find() (onewire.Address, error) {
	s.bus.TargetSetup(byte(ds18b20.DS18B20))
	addr, err := s.bus.Next()
	switch {
	case err == nil:
	case errors.Is(err, owbus.ErrNoMoreDevices), errors.Is(err, owbus.ErrSearchAborted), owbus.IsNoDevices(err):
		return 0, fmt.Errorf("%w: %v", ErrNoSensor, err)
	default:
		return 0, err
	}
	if ds18b20.Is(addr) != nil {
		return 0, fmt.Errorf("%w: first device is %#016x", ErrNoSensor, uint64(addr))
	}
	return addr, nil
}

var _ Sensor = &OneWire{}
