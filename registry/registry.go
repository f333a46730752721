// Copyright 2025 SQLGate
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

package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"sqlgate/gateway/config"
	"sqlgate/gateway/db"
	"sqlgate/gateway/pool"
	"sqlgate/gateway/shared/logger"
	"sqlgate/gateway/shared/types"
)

// Registry hands out one Manager per configured target, constructing
// each lazily on first use. Construction happens under the write lock,
// so concurrent first requests for the same target share a single
// manager and a single pool warm-up.
type Registry struct {
	settings *config.Settings
	log      *logger.Logger
	base     db.Options

	mu       sync.RWMutex
	managers map[string]*db.Manager
}

// Options tunes the registry. Manager is the base options applied to
// every manager it constructs; per-target settings from the
// configuration overlay it.
type Options struct {
	Log     *logger.Logger
	Manager db.Options
}

// New creates a registry over the configured targets. No connections
// are opened until a target is first requested.
func New(settings *config.Settings, opts Options) *Registry {
	if opts.Log == nil {
		opts.Log = logger.New("registry")
	}
	return &Registry{
		settings: settings,
		log:      opts.Log,
		base:     opts.Manager,
		managers: make(map[string]*db.Manager),
	}
}

// Get returns the manager for a named target, constructing it on first
// use. An empty name selects the default target. Unknown names report
// a not-found error listing the configured targets.
func (r *Registry) Get(ctx context.Context, name string) (*db.Manager, error) {
	if name == "" {
		name = config.DefaultTarget
	}

	r.mu.RLock()
	m, ok := r.managers[name]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	tgt, ok := r.settings.Targets[name]
	if !ok {
		return nil, types.NewError(types.KindNotFound,
			fmt.Sprintf("unknown target %q (configured: %s)", name, strings.Join(r.Names(), ", ")), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[name]; ok {
		return m, nil
	}

	opts := r.base
	if opts.Log == nil {
		opts.Log = r.log
	}
	if opts.QueryDir == "" {
		opts.QueryDir = r.settings.QueryDir
	}
	if opts.RowLimit == 0 {
		opts.RowLimit = r.settings.RowLimit
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = r.settings.CacheTTL
	}

	m, err := db.New(ctx, tgt, r.settings.PoolFor(name), opts)
	if err != nil {
		return nil, types.NewError(types.KindConnection,
			fmt.Sprintf("connect to target %q: %s", name, types.SanitizeErrorMessage(err.Error())), err)
	}
	r.managers[name] = m
	r.log.Info(name, "", "Target connected", map[string]interface{}{
		"host":     tgt.Host,
		"database": tgt.Database,
		"driver":   tgt.Driver,
	})
	return m, nil
}

// Names returns the configured target names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.settings.Targets))
	for name := range r.settings.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every configured target with credentials removed,
// sorted by name.
func (r *Registry) List() []config.Target {
	names := r.Names()
	out := make([]config.Target, 0, len(names))
	for _, name := range names {
		out = append(out, r.settings.Targets[name].Redacted())
	}
	return out
}

// Stats returns the pool counters of every target touched so far.
func (r *Registry) Stats() map[string]pool.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]pool.Stats, len(r.managers))
	for name, m := range r.managers {
		out[name] = m.PoolStats()
	}
	return out
}

// CloseTarget shuts down one target's manager if it was ever
// constructed. The next Get for the name builds a fresh one.
func (r *Registry) CloseTarget(name string) error {
	r.mu.Lock()
	m, ok := r.managers[name]
	delete(r.managers, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Close()
}

// CloseAll shuts down every constructed manager and returns the first
// close error encountered.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*db.Manager)
	r.mu.Unlock()

	var first error
	for name, m := range managers {
		if err := m.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return first
}
