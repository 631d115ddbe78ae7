// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GermanBionicSystems/thermowire/owbus/owbustest"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	warm = owbustest.MakeROM(0x28, 0x1f40)
	cold = owbustest.MakeROM(0x28, 0x1f41)
	s20  = owbustest.MakeROM(0x10, 0x1f42)
)

// run executes the command line on the simulated bus.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{stderr: io.Discard}
	cmd := newRootCmd(a)
	buf := bytes.Buffer{}
	cmd.SetOut(&buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--adapter", "sim"}, args...))
	err := cmd.Execute()
	require.NoError(t, a.teardown())
	return buf.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func TestScan(t *testing.T) {
	out, err := run(t, "scan")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		formatAddr(warm) + " DS18B20",
		formatAddr(cold) + " DS18B20",
		formatAddr(s20) + " DS18S20",
	}, lines(out))

	out, err = run(t, "scan", "--family", "0x28")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{formatAddr(warm) + " DS18B20", formatAddr(cold) + " DS18B20"}, lines(out))

	out, err = run(t, "scan", "--skip-family", "0x28")
	require.NoError(t, err)
	assert.Equal(t, []string{formatAddr(s20) + " DS18S20"}, lines(out))

	_, err = run(t, "scan", "--family", "0x28", "--alarm")
	assert.Error(t, err)
	_, err = run(t, "scan", "--family", "zz")
	assert.Error(t, err)
}

func TestRead(t *testing.T) {
	out, err := run(t, "read")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{formatAddr(warm) + " 21.5°C", formatAddr(cold) + " -3.25°C"}, lines(out))

	out, err = run(t, "read", "--format", "json", "28-000000001f41")
	require.NoError(t, err)
	var r readingRecord
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, formatAddr(cold), r.Sensor)
	assert.Equal(t, -3.25, r.Celsius)
	assert.Empty(t, r.Error)

	out, err = run(t, "read", "--format", "cbor", "--resolution", "9", formatAddr(warm))
	require.NoError(t, err)
	require.NoError(t, cbor.NewDecoder(strings.NewReader(out)).Decode(&r))
	assert.Equal(t, 21.5, r.Celsius)

	_, err = run(t, "read", formatAddr(s20))
	assert.Error(t, err)
	_, err = run(t, "read", "--format", "xml")
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	out, err := run(t, "config", "show", formatAddr(warm))
	require.NoError(t, err)
	assert.Equal(t, formatAddr(warm)+" 12 bits, alarm 70..75°C, external power\n", out)

	out, err = run(t, "config", "resolution", formatAddr(warm), "10")
	require.NoError(t, err)
	assert.Contains(t, out, " 10 bits,")
	for _, bits := range []string{"13", "8", "265", "0"} {
		_, err = run(t, "config", "resolution", formatAddr(warm), bits)
		assert.Error(t, err, bits)
	}
	_, err = run(t, "read", "--resolution", "265", formatAddr(warm))
	assert.Error(t, err)

	out, err = run(t, "config", "alarm", formatAddr(warm), "--", "-5", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "alarm -5..30°C")
	_, err = run(t, "config", "alarm", formatAddr(warm), "30", "-5")
	assert.Error(t, err)

	out, err = run(t, "config", "disable-alarm", formatAddr(warm))
	require.NoError(t, err)
	assert.Contains(t, out, "alarm -55..125°C")

	out, err = run(t, "config", "recall", formatAddr(cold))
	require.NoError(t, err)
	assert.Contains(t, out, "alarm 70..75°C")
}

func TestVerify(t *testing.T) {
	out, err := run(t, "verify", formatAddr(warm), formatAddr(s20))
	require.NoError(t, err)
	assert.Equal(t, []string{formatAddr(warm) + " DS18B20 present", formatAddr(s20) + " DS18S20 present"}, lines(out))

	missing := owbustest.MakeROM(0x28, 0x99)
	out, err = run(t, "verify", formatAddr(warm), formatAddr(missing))
	assert.EqualError(t, err, "1 of 2 devices absent")
	assert.Contains(t, out, formatAddr(missing)+" DS18B20 absent")
}

func TestWatch(t *testing.T) {
	out, err := run(t, "watch", "--count", "2", "--interval", "1ms")
	require.NoError(t, err)
	assert.Len(t, lines(out), 4)

	out, err = run(t, "watch", "--count", "1", "--strip", formatAddr(cold))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\r\033[0m"), out)
	assert.True(t, strings.HasSuffix(out, " -3.25°C\n\033[0m"), out)
}

func TestPlot(t *testing.T) {
	p := filepath.Join(t.TempDir(), "p.png")
	_, err := run(t, "plot", "--samples", "2", "--interval", "1ms", "--width", "200", "--height", "100", "--out", p)
	require.NoError(t, err)
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)

	_, err = run(t, "plot", "--samples", "1")
	assert.Error(t, err)
}

func TestRenderPlot(t *testing.T) {
	s := []series{
		{name: "a", values: []float64{20, 21, math.NaN(), 22}},
		{name: "b", values: []float64{math.NaN(), math.NaN()}},
	}
	img := renderPlot(s, time.Minute, 320, 200).Image()
	assert.Equal(t, 320, img.Bounds().Dx())
	// The background is white in the corner.
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
}

func TestParseAddr(t *testing.T) {
	a, err := parseAddr("28-000000001f40")
	require.NoError(t, err)
	assert.Equal(t, warm, a)
	a, err = parseAddr(formatAddr(warm))
	require.NoError(t, err)
	assert.Equal(t, warm, a)

	for _, s := range []string{"", "28-xyz", "0x28", formatAddr(warm ^ 1<<60), "28-00000000001f40"} {
		_, err := parseAddr(s)
		assert.Error(t, err, s)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("THERMOWIRE_FORMAT", "json")
	t.Setenv("THERMOWIRE_SERIAL_PORT", "/dev/ttyS1")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("adapter", "", "")
	fs.String("format", "", "")
	fs.Duration("timeout", 0, "")
	require.NoError(t, fs.Parse([]string{"--adapter", "ds9097", "--timeout", "3s"}))

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "ds9097", cfg.MustGet("adapter").String())
	assert.Equal(t, "json", cfg.MustGet("format").String())
	assert.Equal(t, "/dev/ttyS1", cfg.MustGet("serial.port").String())
	assert.Equal(t, 3*time.Second, cfg.MustGet("timeout").Duration())
	assert.Equal(t, time.Millisecond, cfg.MustGet("poll").Duration())
	assert.Equal(t, "GPIO4", cfg.MustGet("pin").String())

	require.NoError(t, fs.Parse([]string{"--format", "cbor"}))
	cfg, err = loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "cbor", cfg.MustGet("format").String())
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	// No thermowire.json in the working directory.
	out, err := run(t, "scan", "--family", "0x10")
	require.NoError(t, err)
	assert.Equal(t, formatAddr(s20)+" DS18S20\n", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "thermowire.json"), []byte(`{"format": "json"}`), 0o644))
	out, err = run(t, "read", formatAddr(cold))
	require.NoError(t, err)
	var r readingRecord
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, -3.25, r.Celsius)

	other := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(other, []byte(`{"format": "text"}`), 0o644))
	out, err = run(t, "--config-file", other, "read", formatAddr(cold))
	require.NoError(t, err)
	assert.Equal(t, formatAddr(cold)+" -3.25°C\n", out)

	_, err = run(t, "--config-file", filepath.Join(dir, "missing.json"), "scan")
	assert.Error(t, err)
}

func TestRPiPin(t *testing.T) {
	for s, want := range map[string]int{"4": 4, "GPIO17": 17, "gpio2": 2} {
		n, err := rpiPin(s)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err := rpiPin("J8P7")
	assert.Error(t, err)
}

func TestUnknownAdapter(t *testing.T) {
	a := &app{stderr: io.Discard}
	cmd := newRootCmd(a)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--adapter", "usb", "scan"})
	assert.EqualError(t, cmd.Execute(), `unknown adapter "usb"`)
}
