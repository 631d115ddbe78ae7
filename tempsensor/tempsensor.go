// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tempsensor exposes temperature sensors behind a single interface
// so an application can read them without knowing the bus they sit on.
//
// OneWire binds the first DS18B20 found on a 1-wire bus and turns the
// start/poll/read sequence into one blocking call bounded by a timeout.
package tempsensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

var (
	// ErrNoSensor is returned by Init when no matching device answers.
	ErrNoSensor = errors.New("tempsensor: no sensor found")
	// ErrTimeout is returned by Read when the device did not complete the
	// conversion in time. It is distinct from a device failure.
	ErrTimeout = errors.New("tempsensor: timed out waiting for conversion")
	// ErrNotInitialized is returned by Read before a successful Init.
	ErrNotInitialized = errors.New("tempsensor: not initialized")
)

// Sensor is a temperature sensor.
type Sensor interface {
	String() string
	// Init finds and configures the device. It must succeed before Read.
	Init(ctx context.Context) error
	// Read performs a measurement and returns the temperature.
	Read(ctx context.Context) (physic.Temperature, error)
}

// Registration binds a name to a sensor.
type Registration struct {
	Name   string
	Sensor Sensor
}

// Reading is the outcome of reading one registered sensor.
type Reading struct {
	Name        string
	Time        time.Time
	Temperature physic.Temperature
	Err         error
}

// Table is an ordered set of registrations.
//
// Registrations cannot be removed or replaced. Table is safe for concurrent
// use; the zero value is ready to use.
type Table struct {
	mu   sync.Mutex
	regs []Registration
}

// Register adds a sensor under name.
func (t *Table) Register(name string, s Sensor) error {
	if name == "" {
		return errors.New("tempsensor: name is required")
	}
	if s == nil {
		return errors.New("tempsensor: sensor is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.regs {
		if r.Name == name {
			return fmt.Errorf("tempsensor: %q is already registered", name)
		}
	}
	t.regs = append(t.regs, Registration{Name: name, Sensor: s})
	return nil
}

// Lookup returns the sensor registered under name.
func (t *Table) Lookup(name string) (Sensor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.regs {
		if r.Name == name {
			return r.Sensor, true
		}
	}
	return nil, false
}

// All returns the registrations in registration order.
func (t *Table) All() []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Registration(nil), t.regs...)
}

// InitAll initializes every sensor and returns the errors joined.
func (t *Table) InitAll(ctx context.Context) error {
	var errs []error
	for _, r := range t.All() {
		if err := r.Sensor.Init(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ReadAll reads every sensor in registration order.
//
// A sensor failing does not prevent reading the others.
func (t *Table) ReadAll(ctx context.Context, now func() time.Time) []Reading {
	regs := t.All()
	out := make([]Reading, 0, len(regs))
	for _, r := range regs {
		v, err := r.Sensor.Read(ctx)
		out = append(out, Reading{Name: r.Name, Time: now(), Temperature: v, Err: err})
	}
	return out
}

// Default is the table used by Register.
var Default Table

// Register adds a sensor to the Default table.
func Register(name string, s Sensor) error {
	return Default.Register(name, s)
}

// Env adapts any periph environmental sensor.
type Env struct {
	Dev physic.SenseEnv
}

func (e *Env) String() string {
	return fmt.Sprint(e.Dev)
}

// Init is a no-op, periph devices are ready once constructed.
func (e *Env) Init(ctx context.Context) error {
	if e.Dev == nil {
		return ErrNotInitialized
	}
	return nil
}

// Read calls Sense and returns the temperature.
func (e *Env) Read(ctx context.Context) (physic.Temperature, error) {
	if e.Dev == nil {
		return 0, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var env physic.Env
	if err := e.Dev.Sense(&env); err != nil {
		return 0, err
	}
	return env.Temperature, nil
}

var _ Sensor = &Env{}
