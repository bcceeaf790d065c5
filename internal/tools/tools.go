// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps qualified tool names to the tools plugins contribute.
//
// It is populated once at startup and sealed; after Seal every method is a
// read and the registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	plugins []Plugin
	sealed  bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// BuildRegistry registers every plugin in order and seals the result.
// A duplicate tool name aborts construction.
func BuildRegistry(plugins ...Plugin) (*Registry, error) {
	r := NewRegistry()
	for _, plugin := range plugins {
		if err := r.RegisterPlugin(plugin); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// RegisterTool adds a tool. Names must be unique and non-empty.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("cannot register tool with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, name)
	}
	if _, exists := r.tools[name]; exists {
		return NewDuplicateToolError(name)
	}
	r.tools[name] = tool
	return nil
}

// RegisterPlugin registers all tools of a plugin.
func (r *Registry) RegisterPlugin(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("cannot register nil plugin")
	}
	for _, tool := range plugin.Tools() {
		if err := r.RegisterTool(tool); err != nil {
			return fmt.Errorf("plugin %s: %w", plugin.Name(), err)
		}
	}
	r.mu.Lock()
	r.plugins = append(r.plugins, plugin)
	r.mu.Unlock()
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Invoke runs a tool's in-process handler after validating its arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (string, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return "", NewNotFoundError(name)
	}
	if err := ValidateArgs(tool, args); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}

// Materialize resolves an invocation to the shell command it stands for.
func (r *Registry) Materialize(inv Invocation) (string, error) {
	tool, ok := r.Lookup(inv.Tool)
	if !ok {
		return "", NewNotFoundError(inv.Tool)
	}
	if err := ValidateArgs(tool, inv.Args); err != nil {
		return "", err
	}
	command, err := tool.Command(inv.Args)
	if err != nil {
		return "", NewArgumentError(inv.Tool, err)
	}
	return command, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns all registered tools sorted by name.
func (r *Registry) Catalog() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	catalog := make([]Tool, 0, len(names))
	for _, name := range names {
		catalog = append(catalog, r.tools[name])
	}
	return catalog
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
