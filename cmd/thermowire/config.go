// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
)

var defaultConfig = map[string]interface{}{
	"adapter":     "gpio",
	"pin":         "GPIO4",
	"i2c.bus":     "",
	"i2c.addr":    0x18,
	"serial.port": "/dev/ttyUSB0",
	"timeout":     "2s",
	"poll":        "1ms",
	"resolution":  0,
	"format":      "text",
	"log.level":   "info",
}

// loadConfig layers the flags set on the command line over the environment,
// the configuration file and the defaults.
//
// The file named by config.file must exist; without it thermowire.json is
// loaded when present.
//
// Flag names map to keys by replacing dashes with dots, so --i2c-addr sets
// i2c.addr and THERMOWIRE_I2C_ADDR does the same from the environment.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	flags := map[string]interface{}{}
	fs.Visit(func(f *pflag.Flag) {
		flags[strings.ReplaceAll(f.Name, "-", ".")] = f.Value.String()
	})
	def := dict.New(dict.WithMap(defaultConfig))
	// highest priority sources first
	cfg := config.New(
		dict.New(dict.WithMap(flags)),
		env.New(env.WithEnvPrefix("THERMOWIRE_")),
		config.WithDefault(def))
	if p, err := cfg.Get("config.file"); err == nil {
		if _, err := os.Stat(p.String()); err != nil {
			return nil, err
		}
	}
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", "thermowire.json", json.NewDecoder()))
	return cfg.GetConfig("", config.WithMust), nil
}
