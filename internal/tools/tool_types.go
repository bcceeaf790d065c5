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
)

// Parameter types understood by argument validation.
const (
	ParamString  = "string"
	ParamInteger = "integer"
	ParamBoolean = "boolean"
)

// Param describes one named tool parameter.
type Param struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ExecutorFunc runs a tool in-process.
type ExecutorFunc func(ctx context.Context, args map[string]string) (string, error)

// CommandFunc materializes the shell command a tool stands for.
type CommandFunc func(args map[string]string) (string, error)

// Tool is a named, invocable capability contributed by a plugin.
//
// Command returns the shell command the executor will run for the given
// arguments; Execute is the optional in-process handle.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]Param
	Command(args map[string]string) (string, error)
	Execute(ctx context.Context, args map[string]string) (string, error)
	Validate(args map[string]string) error
}

// Plugin describes a bundle of tools that are registered together.
type Plugin interface {
	Name() string
	Description() string
	Tools() []Tool
}

// ToolDefinition provides a default implementation of Tool.
type ToolDefinition struct {
	NameValue        string
	DescriptionValue string
	ParametersValue  map[string]Param
	CommandFunc      CommandFunc
	ExecuteFunc      ExecutorFunc
	ValidateFunc     ValidationRule
}

func (t *ToolDefinition) Name() string {
	return t.NameValue
}

func (t *ToolDefinition) Description() string {
	return t.DescriptionValue
}

func (t *ToolDefinition) Parameters() map[string]Param {
	return t.ParametersValue
}

func (t *ToolDefinition) Command(args map[string]string) (string, error) {
	if t.CommandFunc == nil {
		return "", fmt.Errorf("tool %s does not map to a shell command", t.NameValue)
	}
	return t.CommandFunc(args)
}

func (t *ToolDefinition) Execute(ctx context.Context, args map[string]string) (string, error) {
	if t.ExecuteFunc == nil {
		return "", fmt.Errorf("%w: %s", ErrNoHandler, t.NameValue)
	}
	return t.ExecuteFunc(ctx, args)
}

func (t *ToolDefinition) Validate(args map[string]string) error {
	if t.ValidateFunc == nil {
		return nil
	}
	return t.ValidateFunc(args)
}

// StaticCommand returns a CommandFunc that ignores its arguments.
func StaticCommand(command string) CommandFunc {
	return func(map[string]string) (string, error) {
		return command, nil
	}
}

// PluginDefinition provides a default implementation of Plugin.
type PluginDefinition struct {
	NameValue        string
	DescriptionValue string
	ToolsValue       []Tool
}

func (p *PluginDefinition) Name() string {
	return p.NameValue
}

func (p *PluginDefinition) Description() string {
	return p.DescriptionValue
}

func (p *PluginDefinition) Tools() []Tool {
	return p.ToolsValue
}
