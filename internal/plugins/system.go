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
	"os/user"
	"sort"
	"strconv"
	"strings"

	corecat "github.com/u-root/u-root/pkg/core/cat"

	"terminalbot/internal/matcher"
	"terminalbot/internal/procfs"
	"terminalbot/internal/tools"
)

const defaultOSRelease = "/etc/os-release"

// System returns host information tools.
func System(opts Options) *Plugin {
	proc := opts.proc()
	osRelease := opts.OSRelease
	if osRelease == "" {
		osRelease = defaultOSRelease
	}
	toolList := []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "system.info",
			DescriptionValue: "Show kernel, hostname and uptime",
			CommandFunc:      tools.StaticCommand("uname -a && uptime"),
			ExecuteFunc:      systemInfo(proc),
		},
		&tools.ToolDefinition{
			NameValue:        "system.uptime",
			DescriptionValue: "Show uptime and load averages",
			CommandFunc:      tools.StaticCommand("uptime"),
			ExecuteFunc: func(ctx context.Context, args map[string]string) (string, error) {
				d, err := proc.Uptime()
				if err != nil {
					return "", err
				}
				return procfs.FormatUptime(d) + "\n", nil
			},
		},
		&tools.ToolDefinition{
			NameValue:        "system.kernel",
			DescriptionValue: "Show the kernel release",
			CommandFunc:      tools.StaticCommand("uname -r"),
			ExecuteFunc: func(ctx context.Context, args map[string]string) (string, error) {
				release, err := proc.KernelRelease()
				if err != nil {
					return "", err
				}
				return release + "\n", nil
			},
		},
		&tools.ToolDefinition{
			NameValue:        "system.os",
			DescriptionValue: "Show operating system and distribution",
			CommandFunc:      tools.StaticCommand("cat " + defaultOSRelease),
			ExecuteFunc: func(ctx context.Context, args map[string]string) (string, error) {
				return runCoreCommand(ctx, corecat.New(), "", osRelease)
			},
		},
		&tools.ToolDefinition{
			NameValue:        "system.disk",
			DescriptionValue: "Show disk space usage of mounted filesystems",
			CommandFunc:      tools.StaticCommand("df -h"),
		},
		&tools.ToolDefinition{
			NameValue:        "system.memory",
			DescriptionValue: "Show memory usage",
			CommandFunc:      tools.StaticCommand("free -h"),
			ExecuteFunc:      memoryUsage(proc),
		},
		&tools.ToolDefinition{
			NameValue:        "system.logs",
			DescriptionValue: "Show recent system journal entries",
			ParametersValue: map[string]tools.Param{
				"lines": {Type: tools.ParamInteger, Description: "Number of lines (default 50)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				return fmt.Sprintf("journalctl -n %d --no-pager", lineCount(args)), nil
			},
			ValidateFunc: tools.IntRangeArg("lines", 1, maxLogLines),
		},
		&tools.ToolDefinition{
			NameValue:        "system.reboot",
			DescriptionValue: "Reboot the machine",
			CommandFunc:      tools.StaticCommand("reboot"),
		},
		&tools.ToolDefinition{
			NameValue:        "system.whoami",
			DescriptionValue: "Show the current user",
			CommandFunc:      tools.StaticCommand("whoami"),
			ExecuteFunc: func(ctx context.Context, args map[string]string) (string, error) {
				current, err := user.Current()
				if err != nil {
					return "", err
				}
				return current.Username + "\n", nil
			},
		},
		&tools.ToolDefinition{
			NameValue:        "system.who",
			DescriptionValue: "Show logged-in users",
			CommandFunc:      tools.StaticCommand("who"),
		},
		&tools.ToolDefinition{
			NameValue:        "system.env",
			DescriptionValue: "Show environment variables",
			CommandFunc:      tools.StaticCommand("env"),
			ExecuteFunc: func(ctx context.Context, args map[string]string) (string, error) {
				env := os.Environ()
				sort.Strings(env)
				return strings.Join(env, "\n") + "\n", nil
			},
		},
	}

	rules := []matcher.Rule{
		{ID: "system.info", Pattern: `\b(?:show|get|check)\b.*\bsystem\s+info(?:rmation)?\b`, Priority: priorityGeneric, Tool: "system.info", Example: "show system info"},
		{ID: "system.uptime", Pattern: `\buptime\b|\bhow\s+long\s+has\s+(?:the\s+)?(?:system|machine|server|host)\s+been\s+up\b`, Priority: priorityGeneric, Tool: "system.uptime", Example: "show uptime"},
		{ID: "system.kernel", Pattern: `\bkernel(?:\s+version|\s+release)?\b`, Priority: priorityGeneric, Tool: "system.kernel", Example: "check kernel version"},
		{ID: "system.os", Pattern: `\b(?:os|distribution|distro)\s+(?:version|release|info)\b|\bwhich\s+(?:linux|distro)\b`, Priority: priorityGeneric, Tool: "system.os", Example: "show os version"},
		{ID: "system.disk", Pattern: `\bdisk\s+(?:space|usage)\b|\bfree\s+(?:disk\s+)?space\b`, Priority: priorityGeneric, Tool: "system.disk", Example: "check disk space"},
		{ID: "system.memory", Pattern: `\bmemory\s+usage\b|\bfree\s+memory\b|\b(?:show|check)\b.*\b(?:ram|mem|memory)\b`, Priority: priorityGeneric - 5, Tool: "system.memory", Example: "show memory usage"},
		{ID: "system.logs", Pattern: `\b(?:show|check|view)\s+(?:the\s+)?(?:system\s+)?logs?\b`, Priority: priorityGeneric, Tool: "system.logs", Example: "show system logs"},
		{ID: "system.reboot", Pattern: `\b(?:reboot|restart)\s+(?:the\s+)?(?:system|machine|server|computer|host)\b|^\s*reboot\s*$`, Priority: prioritySpecific, Tool: "system.reboot", Example: "reboot system"},
		{ID: "system.whoami", Pattern: `\bwho\s+am\s+i\b|\b(?:which|current)\s+user\b`, Priority: priorityGeneric, Tool: "system.whoami", Example: "who am i"},
		{ID: "system.who", Pattern: `\blogged[\s-]+in\s+users\b|\bwho\s+is\s+logged\s+in\b`, Priority: prioritySpecific, Tool: "system.who", Example: "list logged in users"},
		{ID: "system.env", Pattern: `\benvironment\s+variables\b|\benv\s+vars?\b`, Priority: priorityGeneric, Tool: "system.env", Example: "show environment variables"},
	}
	return newPlugin("system", "System information and metrics (uptime, disk, memory, OS version)", toolList, rules)
}

func systemInfo(proc *procfs.Reader) tools.ExecutorFunc {
	return func(ctx context.Context, args map[string]string) (string, error) {
		var b strings.Builder
		hostname, err := os.Hostname()
		if err == nil {
			fmt.Fprintf(&b, "Hostname: %s\n", hostname)
		}
		if release, err := proc.KernelRelease(); err == nil {
			fmt.Fprintf(&b, "Kernel: %s\n", release)
		}
		d, err := proc.Uptime()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Uptime: %s\n", procfs.FormatUptime(d))
		return b.String(), nil
	}
}

func memoryUsage(proc *procfs.Reader) tools.ExecutorFunc {
	return func(ctx context.Context, args map[string]string) (string, error) {
		info, err := proc.MemInfo()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, key := range []string{"MemTotal", "MemFree", "MemAvailable", "SwapTotal", "SwapFree"} {
			value, ok := info[key]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%-13s %s\n", key+":", humanKB(value))
		}
		return b.String(), nil
	}
}

// humanKB renders a meminfo "123 kB" value with FormatBytes.
func humanKB(value string) string {
	fields := strings.Fields(value)
	if len(fields) != 2 || fields[1] != "kB" {
		return value
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return value
	}
	return procfs.FormatBytes(n * 1024)
}
