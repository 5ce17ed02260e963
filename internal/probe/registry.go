// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package probe

import (
	"fmt"
	"sort"
	"time"

	"github.com/antimetal/rezolus-agent/internal/config"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/antimetal/rezolus-agent/internal/sampler"
	"github.com/go-logr/logr"
)

// Factory builds one probe family's ProbeFamily, wiring its kernel-map or
// proc/sysfs refreshers into reg under cfg's interval and BPF-preference
// overrides. A Factory returning (nil, nil) indicates the probe declined
// to register itself for this host (e.g. its eBPF object requires a
// newer kernel than is running and no proc/sysfs fallback exists).
type Factory func(cfg *config.Config, reg *metric.Registry, mgr *Manager, logger logr.Logger) (*sampler.ProbeFamily, error)

// Registry is the set of probe families the agent knows how to build,
// keyed by the name used in the configuration file's [samplers.<name>]
// blocks.
type Registry struct {
	factories       map[string]Factory
	defaultInterval map[string]time.Duration
}

// NewRegistry returns an empty probe family registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:       map[string]Factory{},
		defaultInterval: map[string]time.Duration{},
	}
}

// Register adds a probe family factory under name, with the interval to
// use absent an explicit configuration override.
func (r *Registry) Register(name string, defaultInterval time.Duration, factory Factory) {
	r.factories[name] = factory
	r.defaultInterval[name] = defaultInterval
}

// Build constructs every registered, enabled probe family in
// deterministic (sorted) name order. A probe family whose factory fails
// is logged and skipped, as is one whose factory returns (nil, nil); the
// remaining families are still built.
func (r *Registry) Build(cfg *config.Config, reg *metric.Registry, mgr *Manager, logger logr.Logger) ([]*sampler.ProbeFamily, error) {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	var families []*sampler.ProbeFamily
	for _, name := range names {
		if !cfg.Enabled(name) {
			logger.V(1).Info("probe family disabled by configuration", "name", name)
			continue
		}

		family, err := r.factories[name](cfg, reg, mgr, logger.WithValues("probe", name))
		if err != nil {
			logger.Error(fmt.Errorf("probe: building %q: %w", name, err), "probe family failed to build, skipping", "name", name)
			continue
		}
		if family == nil {
			logger.Info("probe family unsupported on this host, skipping", "name", name)
			continue
		}
		families = append(families, family)
	}

	return families, nil
}
