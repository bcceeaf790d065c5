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

package plugins

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	corels "github.com/u-root/u-root/pkg/core/ls"

	"terminalbot/internal/matcher"
	"terminalbot/internal/paths"
	"terminalbot/internal/tools"
)

// Files returns directory listing, search and space usage tools.
func Files() *Plugin {
	toolList := []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "files.list",
			DescriptionValue: "List files of a directory",
			ParametersValue: map[string]tools.Param{
				"path":   {Type: tools.ParamString, Description: "Directory to list (default: working directory)"},
				"hidden": {Type: tools.ParamBoolean, Description: "Include hidden files"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				flags := "-lh"
				if isTrue(args["hidden"]) {
					flags = "-lah"
				}
				if path := strings.TrimSpace(args["path"]); path != "" {
					return fmt.Sprintf("ls %s -- %s", flags, tools.ShellQuote(path)), nil
				}
				return "ls " + flags, nil
			},
			ExecuteFunc:  listDirectory,
			ValidateFunc: validPath("path"),
		},
		&tools.ToolDefinition{
			NameValue:        "files.find",
			DescriptionValue: "Find files whose name contains a pattern",
			ParametersValue: map[string]tools.Param{
				"pattern": {Type: tools.ParamString, Required: true, Description: "Part of the file name"},
				"path":    {Type: tools.ParamString, Description: "Directory to search (default: working directory)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				root := strings.TrimSpace(args["path"])
				if root == "" {
					root = "."
				}
				pattern := "*" + strings.Trim(args["pattern"], "*") + "*"
				return fmt.Sprintf("find %s -type f -name %s 2>/dev/null | head -n 100", tools.ShellQuote(root), tools.ShellQuote(pattern)), nil
			},
			ValidateFunc: tools.ChainValidation(
				tools.MatchArg("pattern", globPattern, "pattern must not contain slashes"),
				validPath("path"),
			),
		},
		&tools.ToolDefinition{
			NameValue:        "files.usage",
			DescriptionValue: "Show what is taking the most space in a directory",
			ParametersValue: map[string]tools.Param{
				"path": {Type: tools.ParamString, Description: "Directory to inspect (default: working directory)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				const usage = "du -sh -- * 2>/dev/null | sort -hr | head -n 10"
				if path := strings.TrimSpace(args["path"]); path != "" {
					return "cd " + tools.ShellQuote(path) + " && " + usage, nil
				}
				return usage, nil
			},
			ValidateFunc: validPath("path"),
		},
	}

	rules := []matcher.Rule{
		{ID: "files.list-in", Pattern: `\b(?:list|show)\s+(?:all\s+)?(?:the\s+)?files\s+in\s+(?P<path>\S+)`, Priority: prioritySpecific, Tool: "files.list", Example: "list files in /var/log"},
		{ID: "files.list", Pattern: `\b(?:list|show)\s+(?:the\s+)?(?:current\s+)?(?:directory|dir|folder|files)\b`, Priority: priorityGeneric, Tool: "files.list", Example: "list current directory"},
		{ID: "files.find", Pattern: `\b(?:find|search\s+for)\s+(?:a\s+|the\s+)?files?\s+(?:named\s+|called\s+|matching\s+)?(?P<pattern>[\w.*-]+)`, Priority: priorityGeneric, Tool: "files.find", Example: "find file config.yaml"},
		{ID: "files.usage", Pattern: `\bwhat\b.*\btaking\b.*\bspace\b|\blargest\s+(?:files|directories|dirs|folders)\b`, Priority: priorityExact, Tool: "files.usage", Example: "what is taking up space?"},
	}
	return newPlugin("files", "Directory listing, file search and space usage", toolList, rules)
}

// validPath checks an optional path argument.
func validPath(key string) tools.ValidationRule {
	return func(args map[string]string) error {
		value, ok := args[key]
		if !ok || value == "" {
			return nil
		}
		return paths.ValidatePathString(value, paths.MaxLength)
	}
}

// isTrue reads a boolean argument the way tools.ValidateArgs checks it.
func isTrue(value string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && v
}

func listDirectory(ctx context.Context, args map[string]string) (string, error) {
	path := strings.TrimSpace(args["path"])
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path not found: %v", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path '%s' is not a directory", path)
	}
	cmdArgs := []string{"-l"}
	if isTrue(args["hidden"]) {
		cmdArgs = append(cmdArgs, "-a")
	}
	cmdArgs = append(cmdArgs, path)
	return runCoreCommand(ctx, corels.New(), "", cmdArgs...)
}
