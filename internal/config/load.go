// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// Load reads and validates the agent configuration file at path, applying
// defaults for any unset optional field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open config file: %w", err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}

	cfg.General = cfg.General.withDefaults()
	cfg.Log = cfg.Log.withDefaults()
	cfg.Prometheus = cfg.Prometheus.withDefaults()

	if err := cfg.Prometheus.check(); err != nil {
		return nil, err
	}
	if err := cfg.Defaults.check("default"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Samplers))
	for name := range cfg.Samplers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := cfg.Samplers[name]
		if err := s.check(name); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}
