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
	"strconv"
	"strings"

	"terminalbot/internal/matcher"
	"terminalbot/internal/procfs"
	"terminalbot/internal/tools"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

type topArgs struct {
	SortBy string `json:"sort_by,omitempty" jsonschema:"description=Sort by cpu or memory (default cpu)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Number of processes to show (default 10)"`
}

type killArgs struct {
	Name   string `json:"name" jsonschema:"description=Exact process name to signal"`
	Signal string `json:"signal,omitempty" jsonschema:"description=Signal name or number (default TERM)"`
}

// Processes returns the process inspection and termination tools.
func Processes(opts Options) *Plugin {
	proc := opts.proc()
	toolList := []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "processes.find",
			DescriptionValue: "Check whether processes matching a name are running",
			ParametersValue: map[string]tools.Param{
				"name": {Type: tools.ParamString, Required: true, Description: "Process name or part of it"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				name := tools.ShellQuote(args["name"])
				return fmt.Sprintf("pgrep -a -i -- %s || echo %s", name, tools.ShellQuote("not running: "+args["name"])), nil
			},
			ExecuteFunc:  findProcesses(proc),
			ValidateFunc: tools.MatchArg("name", namePattern, "process name contains unsupported characters"),
		},
		&tools.ToolDefinition{
			NameValue:        "processes.list",
			DescriptionValue: "List all running processes",
			CommandFunc:      tools.StaticCommand("ps aux"),
			ExecuteFunc:      listProcesses(proc),
		},
		&tools.ToolDefinition{
			NameValue:        "processes.top",
			DescriptionValue: "Show the processes using the most CPU or memory",
			ParametersValue:  tools.MustParamsFor[topArgs](),
			CommandFunc:      topCommand,
			ValidateFunc: tools.ChainValidation(
				tools.MatchArg("sort_by", sortByPattern, "sort_by must be cpu or memory"),
				tools.IntRangeArg("limit", 1, maxTopLimit),
			),
		},
		&tools.ToolDefinition{
			NameValue:        "processes.details",
			DescriptionValue: "Show details about one process",
			ParametersValue: map[string]tools.Param{
				"pid": {Type: tools.ParamInteger, Required: true, Description: "Process ID"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				return "ps -o pid,ppid,user,%cpu,%mem,etime,stat,cmd -p " + strings.TrimSpace(args["pid"]), nil
			},
			ExecuteFunc:  processDetails(proc),
			ValidateFunc: tools.IntRangeArg("pid", 1, 1<<22),
		},
		&tools.ToolDefinition{
			NameValue:        "processes.kill",
			DescriptionValue: "Terminate every process with the given name",
			ParametersValue:  tools.MustParamsFor[killArgs](),
			CommandFunc: func(args map[string]string) (string, error) {
				return fmt.Sprintf("pkill %s-- %s", signalFlag(args["signal"]), tools.ShellQuote(args["name"])), nil
			},
			ValidateFunc: tools.ChainValidation(
				tools.MatchArg("name", namePattern, "process name contains unsupported characters"),
				tools.MatchArg("signal", signalPattern, "unknown signal"),
			),
		},
		&tools.ToolDefinition{
			NameValue:        "processes.kill_pid",
			DescriptionValue: "Terminate one process by PID",
			ParametersValue: map[string]tools.Param{
				"pid":    {Type: tools.ParamInteger, Required: true, Description: "Process ID"},
				"signal": {Type: tools.ParamString, Description: "Signal name or number (default TERM)"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				return fmt.Sprintf("kill %s%s", signalFlag(args["signal"]), strings.TrimSpace(args["pid"])), nil
			},
			ValidateFunc: tools.MatchArg("signal", signalPattern, "unknown signal"),
		},
	}

	name := `(?P<name>[a-z0-9_][\w.@:+-]*)`
	rules := []matcher.Rule{
		{ID: "processes.running", Pattern: `\b(?:is|check(?:\s+if)?)\s+(?:the\s+)?(?:process\s+)?` + name + `\s+(?:running|up|alive)\b`, Priority: priorityGeneric, Tool: "processes.find", Example: "is nginx running?"},
		{ID: "processes.list-all", Pattern: `\b(?:show|list|find)\s+(?:me\s+)?(?:all\s+)?(?:the\s+)?(?:running\s+)?process(?:es)?\s*[?.!]*$`, Priority: prioritySpecific, Tool: "processes.list", Example: "list all processes"},
		{ID: "processes.find-named", Pattern: `\b(?:show|list|find)\s+(?:all\s+)?` + name + `\s+process(?:es)?\b`, Priority: priorityGeneric, Tool: "processes.find", Example: "find python processes"},
		{ID: "processes.find-matching", Pattern: `\b(?:show|list|find)\s+process(?:es)?\s+(?:named\s+|called\s+|matching\s+)?` + name, Priority: priorityGeneric, Tool: "processes.find", Example: "find processes named redis"},
		{ID: "processes.top-cpu", Pattern: `\btop\b.*\bcpu\b|\busing\s+(?:the\s+)?most\s+cpu\b`, Priority: prioritySpecific, Tool: "processes.top", Args: map[string]string{"sort_by": "cpu"}, Example: "top cpu processes"},
		{ID: "processes.top-memory", Pattern: `\btop\b.*\b(?:memory|mem|ram)\b|\busing\s+(?:the\s+)?most\s+(?:memory|ram)\b`, Priority: prioritySpecific, Tool: "processes.top", Args: map[string]string{"sort_by": "memory"}, Example: "top memory processes"},
		{ID: "processes.top", Pattern: `\btop\s+process(?:es)?\b`, Priority: prioritySpecific, Tool: "processes.top", Example: "top processes"},
		{ID: "processes.details", Pattern: `\b(?:details|info(?:rmation)?)\s+(?:about|on|for)\s+(?:process\s+|pid\s+)(?P<pid>\d+)`, Priority: prioritySpecific, Tool: "processes.details", Example: "details about pid 4242"},
		{ID: "processes.kill-pid", Pattern: `\b(?:kill|terminate)\s+(?:process\s+|pid\s+)+(?P<pid>\d+)\b`, Priority: prioritySpecific, Tool: "processes.kill_pid", Example: "kill process 4242"},
		{ID: "processes.kill-named", Pattern: `\b(?:kill|terminate|stop)\s+(?:all\s+)?(?:the\s+)?` + name + `\s+process(?:es)?\b`, Priority: priorityGeneric, Tool: "processes.kill", Example: "kill all python processes"},
		{ID: "processes.kill-matching", Pattern: `\b(?:kill|terminate)\s+(?:the\s+)?process(?:es)?\s+(?:named\s+|called\s+)?(?P<name>[a-z_][\w.@:+-]*)`, Priority: priorityGeneric, Tool: "processes.kill", Example: "kill process named node"},
	}
	return newPlugin("processes", "Process management (find, list, monitor, terminate processes)", toolList, rules)
}

func topCommand(args map[string]string) (string, error) {
	limit := defaultTopLimit
	if raw := strings.TrimSpace(args["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", err
		}
		limit = n
	}
	key := "-%cpu"
	if strings.HasPrefix(strings.ToLower(args["sort_by"]), "mem") {
		key = "-%mem"
	}
	return fmt.Sprintf("ps aux --sort=%s | head -n %d", key, limit+1), nil
}

func signalFlag(signal string) string {
	signal = strings.ToUpper(strings.TrimSpace(signal))
	if signal == "" {
		return ""
	}
	return "-" + strings.TrimPrefix(signal, "SIG") + " "
}

func formatProcesses(processes []procfs.Process) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%7s  %s\n", "PID", "COMMAND")
	for _, p := range processes {
		fmt.Fprintf(&b, "%7d  %s\n", p.PID, p.Command)
	}
	return b.String()
}

func findProcesses(proc *procfs.Reader) tools.ExecutorFunc {
	return func(ctx context.Context, args map[string]string) (string, error) {
		name := strings.TrimSpace(args["name"])
		processes, err := proc.Processes(ctx, name, 0)
		if err != nil {
			return "", err
		}
		if len(processes) == 0 {
			return fmt.Sprintf("not running: %s\n", name), nil
		}
		return formatProcesses(processes), nil
	}
}

func listProcesses(proc *procfs.Reader) tools.ExecutorFunc {
	return func(ctx context.Context, args map[string]string) (string, error) {
		processes, err := proc.Processes(ctx, "", 0)
		if err != nil {
			return "", err
		}
		return formatProcesses(processes), nil
	}
}

func processDetails(proc *procfs.Reader) tools.ExecutorFunc {
	return func(ctx context.Context, args map[string]string) (string, error) {
		pid, err := strconv.Atoi(strings.TrimSpace(args["pid"]))
		if err != nil {
			return "", fmt.Errorf("invalid pid %q", args["pid"])
		}
		cmdline, err := proc.Cmdline(pid)
		if err != nil {
			return "", fmt.Errorf("process %d not found", pid)
		}
		processes, err := proc.Processes(ctx, "", 0)
		if err != nil {
			return "", err
		}
		name := ""
		for _, p := range processes {
			if p.PID == pid {
				name = p.Command
				break
			}
		}
		return fmt.Sprintf("PID: %d\nName: %s\nCommand: %s\n", pid, name, cmdline), nil
	}
}
