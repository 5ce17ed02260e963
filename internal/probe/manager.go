// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package probe loads CO-RE eBPF programs for a probe family and attaches
// them to tracepoints, kprobes, and kretprobes, tracking every resulting
// link so a probe family can be torn down cleanly on shutdown.
package probe

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/go-logr/logr"
)

// Manager loads one probe family's eBPF collection and tracks its
// attached links.
type Manager struct {
	logger    logr.Logger
	kernelBTF *btf.Spec
	links     []link.Link
	mu        sync.Mutex
}

// NewManager creates a Manager, loading the kernel's native BTF when
// available. A kernel with no BTF is not fatal here: cilium/ebpf surfaces
// the resulting CO-RE relocation failure per program load, which callers
// can handle by falling back to a proc/sysfs sampler for that probe
// family instead.
func NewManager(logger logr.Logger) (*Manager, error) {
	logger = logger.WithName("probe-manager")

	kernelBTF, err := btf.LoadKernelSpec()
	if err != nil {
		logger.Info("kernel BTF unavailable, CO-RE relocations may fail", "error", err.Error())
		kernelBTF = nil
	}

	return &Manager{logger: logger, kernelBTF: kernelBTF}, nil
}

// LoadCollection loads an eBPF collection spec, applying CO-RE
// relocations against the kernel's BTF when one was found.
func (m *Manager) LoadCollection(spec *ebpf.CollectionSpec) (*ebpf.Collection, error) {
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("probe: loading eBPF collection: %w", err)
	}

	m.logger.V(1).Info("loaded eBPF collection", "maps", len(spec.Maps), "programs", len(spec.Programs))
	return coll, nil
}

// AttachTracepoint attaches prog to a kernel tracepoint and tracks the
// resulting link for later cleanup.
func (m *Manager) AttachTracepoint(prog *ebpf.Program, group, name string) (link.Link, error) {
	l, err := link.Tracepoint(group, name, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: attaching tracepoint %s:%s: %w", group, name, err)
	}
	m.track(l)
	m.logger.V(1).Info("attached tracepoint", "group", group, "name", name)
	return l, nil
}

// AttachKprobe attaches prog to a kprobe on symbol.
func (m *Manager) AttachKprobe(prog *ebpf.Program, symbol string) (link.Link, error) {
	l, err := link.Kprobe(symbol, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: attaching kprobe %s: %w", symbol, err)
	}
	m.track(l)
	m.logger.V(1).Info("attached kprobe", "symbol", symbol)
	return l, nil
}

// AttachKretprobe attaches prog to a kretprobe on symbol.
func (m *Manager) AttachKretprobe(prog *ebpf.Program, symbol string) (link.Link, error) {
	l, err := link.Kretprobe(symbol, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: attaching kretprobe %s: %w", symbol, err)
	}
	m.track(l)
	m.logger.V(1).Info("attached kretprobe", "symbol", symbol)
	return l, nil
}

func (m *Manager) track(l link.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, l)
}

// Close detaches every link this Manager has attached.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, l := range m.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("probe: detaching link: %w", err)
		}
	}
	m.links = nil
	return firstErr
}

// HasBTF reports whether kernel BTF was found, which callers can use to
// decide whether a probe family's eBPF variant is viable at all.
func (m *Manager) HasBTF() bool {
	return m.kernelBTF != nil
}
