// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/luxfi/liquiditytree/tree"
)

// Module pairs an adapter implementation with the name pools refer to it
// by.
type Module struct {
	// Name identifies the adapter family, e.g. "curve", "constant-product".
	Name string

	// Adapter prices and executes swaps for every pool of the family.
	Adapter tree.PoolAdapter
}

type moduleArray []Module

func (m moduleArray) Len() int           { return len(m) }
func (m moduleArray) Swap(i, j int)      { m[i], m[j] = m[j], m[i] }
func (m moduleArray) Less(i, j int) bool { return m[i].Name < m[j].Name }

// Registry maps adapter names to adapter modules with deterministic
// iteration order.
type Registry struct {
	mu      sync.RWMutex
	modules []Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make([]Module, 0)}
}

// RegisterModule adds an adapter module. Names are case-insensitive and
// must be unique, as must the adapter instances themselves.
func (r *Registry) RegisterModule(m Module) error {
	if m.Name == "" {
		return fmt.Errorf("module name must not be empty")
	}
	if m.Adapter == nil {
		return fmt.Errorf("module %s has no adapter", m.Name)
	}
	name := strings.ToLower(m.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, registered := range r.modules {
		if registered.Name == name {
			return fmt.Errorf("name %s already used by an adapter module", name)
		}
		if registered.Adapter == m.Adapter {
			return fmt.Errorf("adapter already registered as %s", registered.Name)
		}
	}
	m.Name = name
	// sort by name to ensure deterministic iteration
	r.modules = insertSortedByName(r.modules, m)
	return nil
}

// GetModule returns the module registered under name.
func (r *Registry) GetModule(name string) (Module, bool) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// RegisteredModules returns the modules sorted by name.
func (r *Registry) RegisteredModules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.modules...)
}

func insertSortedByName(data []Module, m Module) []Module {
	data = append(data, m)
	sort.Sort(moduleArray(data))
	return data
}
