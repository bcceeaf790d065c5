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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"terminalbot/internal/matcher"
	"terminalbot/internal/tools"
)

const (
	defaultLogLines = 50
	maxLogLines     = 10000
)

var servicePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.@:-]*$`)

func serviceParam() map[string]tools.Param {
	return map[string]tools.Param{
		"service": {Type: tools.ParamString, Required: true, Description: "systemd unit name, e.g. nginx or sshd.service"},
	}
}

func validService() tools.ValidationRule {
	return tools.MatchArg("service", servicePattern, "service name contains unsupported characters")
}

// Services returns the systemd unit tools.
func Services() *Plugin {
	toolList := []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "services.status",
			DescriptionValue: "Show the status of a systemd service",
			ParametersValue:  serviceParam(),
			CommandFunc: func(args map[string]string) (string, error) {
				return "systemctl status --no-pager -- " + tools.ShellQuote(args["service"]), nil
			},
			ValidateFunc: validService(),
		},
		&tools.ToolDefinition{
			NameValue:        "services.list",
			DescriptionValue: "List running services",
			CommandFunc:      tools.StaticCommand("systemctl list-units --type=service --state=running --no-pager"),
		},
		&tools.ToolDefinition{
			NameValue:        "services.failed",
			DescriptionValue: "List failed services",
			CommandFunc:      tools.StaticCommand("systemctl list-units --type=service --state=failed --no-pager"),
		},
		&tools.ToolDefinition{
			NameValue:        "services.stop",
			DescriptionValue: "Stop a systemd service",
			ParametersValue:  serviceParam(),
			CommandFunc: func(args map[string]string) (string, error) {
				return "systemctl stop -- " + tools.ShellQuote(args["service"]), nil
			},
			ValidateFunc: validService(),
		},
		&tools.ToolDefinition{
			NameValue:        "services.logs",
			DescriptionValue: "Show recent journal entries of a service",
			ParametersValue: map[string]tools.Param{
				"service": {Type: tools.ParamString, Required: true, Description: "systemd unit name"},
				"lines":   {Type: tools.ParamInteger, Description: "Number of lines (default 50)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				return fmt.Sprintf("journalctl -u %s -n %d --no-pager", tools.ShellQuote(args["service"]), lineCount(args)), nil
			},
			ValidateFunc: tools.ChainValidation(validService(), tools.IntRangeArg("lines", 1, maxLogLines)),
		},
	}

	service := `(?P<service>[a-z0-9_][\w.@:-]*)`
	rules := []matcher.Rule{
		{ID: "services.apache", Pattern: `\b(?:is|check)\b.*\bapache2?\b.*\b(?:running|up|active)\b`, Priority: priorityExact, Tool: "services.status", Args: map[string]string{"service": "httpd"}, Example: "is apache running?"},
		{ID: "services.status", Pattern: `\b(?:is|check|show)\s+(?:the\s+)?(?:status\s+of\s+)?(?:the\s+)?service\s+` + service, Priority: prioritySpecific, Tool: "services.status", Example: "check service nginx"},
		{ID: "services.status-suffix", Pattern: `\b(?:is|check|show)\s+(?:the\s+)?(?:status\s+of\s+)?(?:the\s+)?` + service + `\s+service\b`, Priority: prioritySpecific, Tool: "services.status", Example: "is the nginx service running?"},
		{ID: "services.failed", Pattern: `\bfailed\s+(?:services|units)\b`, Priority: priorityExact, Tool: "services.failed", Example: "list failed services"},
		{ID: "services.list", Pattern: `\b(?:show|list)\s+(?:all\s+)?(?:the\s+)?(?:running\s+)?services\b`, Priority: prioritySpecific, Tool: "services.list", Example: "list running services"},
		{ID: "services.stop", Pattern: `\b(?:stop|shut\s*down)\s+(?:the\s+)?` + service + `\s+service\b`, Priority: prioritySpecific, Tool: "services.stop", Example: "stop the nginx service"},
		{ID: "services.stop-prefix", Pattern: `\bstop\s+(?:the\s+)?service\s+` + service, Priority: prioritySpecific, Tool: "services.stop", Example: "stop service nginx"},
		{ID: "services.logs", Pattern: `\b(?:show|check|view)\s+(?:the\s+)?logs?\s+(?:for|of)\s+(?:the\s+)?` + service, Priority: prioritySpecific, Tool: "services.logs", Example: "show logs for nginx"},
	}
	return newPlugin("services", "systemd services (status, list, failures, stop, logs)", toolList, rules)
}

func lineCount(args map[string]string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(args["lines"])); err == nil && n > 0 {
		return n
	}
	return defaultLogLines
}
