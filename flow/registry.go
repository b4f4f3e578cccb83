// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"sync"
)

// Dispatcher is the surface a Flow exposes to a Scheduler: enough to
// redeliver an envelope without the scheduler knowing anything about
// In/Out/Stream type parameters.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope) (*FlowState, error)
}

// Registry maps flow names to their Dispatcher, so a Scheduler's delayed
// callback can find the right flow to redeliver a runScheduled envelope to.
// It is an explicit object rather than a package global: a process that
// runs more than one set of flows (tests, multiple servers) gets one
// Registry each, with no hidden shared state between them.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]Dispatcher
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]Dispatcher)}
}

// Register associates name with d, replacing any prior registration.
func (r *Registry) Register(name string, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[name] = d
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, name)
}

// Lookup returns the Dispatcher registered under name.
func (r *Registry) Lookup(name string) (Dispatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.flows[name]
	return d, ok
}

// Names returns the currently registered flow names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for n := range r.flows {
		names = append(names, n)
	}
	return names
}
