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

// Package plugins holds the built-in tool bundles and the rules that map
// common troubleshooting questions onto them.
package plugins

import (
	"regexp"

	"terminalbot/internal/matcher"
	"terminalbot/internal/procfs"
	"terminalbot/internal/tools"
)

// Rule priorities. Higher wins; equal priorities keep listing order.
const (
	priorityGeneric  = 10
	prioritySpecific = 20
	priorityExact    = 30
)

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.@:+-]*$`)
	hostPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.:-]*$`)
	signalPattern = regexp.MustCompile(`^(?i:(?:SIG)?[A-Z]+[0-9]*|[0-9]+)$`)
	sortByPattern = regexp.MustCompile(`^(?i:cpu|memory|mem)$`)
	globPattern   = regexp.MustCompile(`^[^/\x00]+$`)
)

// Plugin is a tool bundle that also contributes matcher rules.
type Plugin struct {
	tools.PluginDefinition
	rules []matcher.Rule
}

// Rules returns the plugin's rules in listing order.
func (p *Plugin) Rules() []matcher.Rule {
	return append([]matcher.Rule(nil), p.rules...)
}

// Options configures the in-process handlers of the built-in tools.
type Options struct {
	// Proc reads the process table; nil means /proc.
	Proc *procfs.Reader
	// OSRelease is read by system.os; empty means /etc/os-release.
	OSRelease string
}

func (o Options) proc() *procfs.Reader {
	if o.Proc == nil {
		return procfs.New("")
	}
	return o.Proc
}

// Builtin returns every built-in plugin in registration order.
func Builtin(opts Options) []tools.Plugin {
	return []tools.Plugin{
		Processes(opts),
		Services(),
		System(opts),
		Network(),
		Files(),
	}
}

func newPlugin(name, description string, toolList []tools.Tool, rules []matcher.Rule) *Plugin {
	return &Plugin{
		PluginDefinition: tools.PluginDefinition{
			NameValue:        name,
			DescriptionValue: description,
			ToolsValue:       toolList,
		},
		rules: rules,
	}
}
