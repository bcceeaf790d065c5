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
	"strconv"
	"strings"

	"terminalbot/internal/matcher"
	"terminalbot/internal/tools"
)

const (
	defaultPingCount = 4
	maxPingCount     = 20
	internetProbe    = "8.8.8.8"
)

// Network returns the address and connectivity tools.
func Network() *Plugin {
	toolList := []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "network.ip",
			DescriptionValue: "Show IP addresses of all interfaces",
			CommandFunc:      tools.StaticCommand("ip addr show"),
		},
		&tools.ToolDefinition{
			NameValue:        "network.interfaces",
			DescriptionValue: "Show network interfaces and link state",
			CommandFunc:      tools.StaticCommand("ip link show"),
		},
		&tools.ToolDefinition{
			NameValue:        "network.ping",
			DescriptionValue: "Test connectivity to a host",
			ParametersValue: map[string]tools.Param{
				"host":  {Type: tools.ParamString, Required: true, Description: "Hostname or IP address"},
				"count": {Type: tools.ParamInteger, Description: "Number of echo requests (default 4)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				count := defaultPingCount
				if n, err := strconv.Atoi(strings.TrimSpace(args["count"])); err == nil && n > 0 {
					count = n
				}
				return fmt.Sprintf("ping -c %d %s", count, tools.ShellQuote(args["host"])), nil
			},
			ValidateFunc: tools.ChainValidation(
				tools.MatchArg("host", hostPattern, "host must be a hostname or an IP address"),
				tools.IntRangeArg("count", 1, maxPingCount),
			),
		},
	}

	rules := []matcher.Rule{
		{ID: "network.ip", Pattern: `\bip\s+address(?:es)?\b|\bmy\s+ip\b`, Priority: priorityGeneric, Tool: "network.ip", Example: "show ip address"},
		{ID: "network.interfaces", Pattern: `\bnetwork\s+interfaces?\b|\bnics?\b`, Priority: priorityGeneric, Tool: "network.interfaces", Example: "show network interfaces"},
		{ID: "network.internet", Pattern: `\b(?:test|check)\b.*\binternet\b`, Priority: prioritySpecific, Tool: "network.ping", Args: map[string]string{"host": internetProbe}, Example: "check internet connection"},
		{ID: "network.ping", Pattern: `\b(?:ping|(?:test|check)\s+(?:the\s+)?(?:connectivity|connection)\s+to)\s+(?P<host>[a-z0-9][a-z0-9.:-]*)`, Priority: priorityGeneric, Tool: "network.ping", Example: "ping example.com"},
	}
	return newPlugin("network", "Network addresses, interfaces and connectivity", toolList, rules)
}
