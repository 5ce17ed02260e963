// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads and validates the agent's TOML configuration
// file: the listen address, logging, Prometheus exposition options, and
// per-sampler enable/interval overrides with a defaults fallback.
package config

import (
	"fmt"
	"net"
	"time"
)

const defaultHistogramGroupingPower = 3

// General holds the agent's network listener configuration.
type General struct {
	Listen      string `toml:"listen"`
	Compression bool   `toml:"compression"`
}

func (g *General) withDefaults() General {
	out := *g
	if out.Listen == "" {
		out.Listen = "0.0.0.0:4242"
	}
	return out
}

// ResolveListen resolves the configured listen address to a concrete TCP
// address, failing fast on a malformed configuration rather than at
// first bind.
func (g *General) ResolveListen() (*net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", g.Listen)
	if err != nil {
		return nil, fmt.Errorf("config: bad listen address %q: %w", g.Listen, err)
	}
	return addr, nil
}

// Log controls the agent's structured logging verbosity.
type Log struct {
	Level string `toml:"level"`
}

func (l *Log) withDefaults() Log {
	out := *l
	if out.Level == "" {
		out.Level = "info"
	}
	return out
}

// Prometheus controls the text-exposition surface's histogram rendering.
type Prometheus struct {
	Histograms             bool  `toml:"histograms"`
	HistogramGroupingPower uint8 `toml:"histogram_grouping_power"`
}

func (p *Prometheus) withDefaults() Prometheus {
	out := *p
	if out.HistogramGroupingPower == 0 {
		out.HistogramGroupingPower = 4
	}
	return out
}

func (p *Prometheus) check() error {
	if p.HistogramGroupingPower < 2 || p.HistogramGroupingPower > defaultHistogramGroupingPower*2 {
		return fmt.Errorf("config: prometheus histogram_grouping_power must be in range 2..=%d, got %d",
			defaultHistogramGroupingPower*2, p.HistogramGroupingPower)
	}
	return nil
}

// SamplerConfig is one sampler's override block: whether it is enabled,
// whether its eBPF variant should be used in preference to a proc/sysfs
// fallback, and its sampling/distribution intervals.
type SamplerConfig struct {
	Enabled              *bool  `toml:"enabled"`
	BPF                  *bool  `toml:"bpf"`
	Interval             string `toml:"interval"`
	DistributionInterval string `toml:"distribution_interval"`
}

func (s *SamplerConfig) check(name string) error {
	if s.Interval != "" {
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return fmt.Errorf("config: %s sampler interval is not valid: %w", name, err)
		}
		if d < time.Millisecond {
			return fmt.Errorf("config: %s sampler interval is too short, minimum is 1ms", name)
		}
	}
	if s.DistributionInterval != "" {
		d, err := time.ParseDuration(s.DistributionInterval)
		if err != nil {
			return fmt.Errorf("config: %s sampler distribution_interval is not valid: %w", name, err)
		}
		if d < time.Millisecond {
			return fmt.Errorf("config: %s sampler distribution_interval is too short, minimum is 1ms", name)
		}
	}
	return nil
}

// Config is the parsed and validated agent configuration.
type Config struct {
	General    General                  `toml:"general"`
	Log        Log                      `toml:"log"`
	Prometheus Prometheus               `toml:"prometheus"`
	Defaults   SamplerConfig            `toml:"defaults"`
	Samplers   map[string]SamplerConfig `toml:"samplers"`
}

// Enabled reports whether the named sampler should run: a per-sampler
// override takes precedence over the defaults block, which in turn
// takes precedence over the built-in default of enabled.
func (c *Config) Enabled(name string) bool {
	if s, ok := c.Samplers[name]; ok && s.Enabled != nil {
		return *s.Enabled
	}
	if c.Defaults.Enabled != nil {
		return *c.Defaults.Enabled
	}
	return true
}

// UseBPF reports whether the named sampler should prefer its eBPF
// implementation over a proc/sysfs fallback.
func (c *Config) UseBPF(name string) bool {
	if s, ok := c.Samplers[name]; ok && s.BPF != nil {
		return *s.BPF
	}
	if c.Defaults.BPF != nil {
		return *c.Defaults.BPF
	}
	return true
}

// Interval returns the configured sampling interval for name, falling
// back to the defaults block and finally to fallback when neither
// specifies one.
func (c *Config) Interval(name string, fallback time.Duration) time.Duration {
	if s, ok := c.Samplers[name]; ok && s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err == nil {
			return d
		}
	}
	if c.Defaults.Interval != "" {
		if d, err := time.ParseDuration(c.Defaults.Interval); err == nil {
			return d
		}
	}
	return fallback
}
