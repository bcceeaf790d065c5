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

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"terminalbot/internal/tools"
)

// Command represents a slash command
type Command struct {
	Name        string
	Description string
}

// getAvailableCommands returns the list of all slash commands
func getAvailableCommands() []Command {
	return []Command{
		{Name: "help", Description: "Show available commands"},
		{Name: "capabilities", Description: "List the requests rule matching understands"},
		{Name: "tools", Description: "List registered tools"},
		{Name: "mode", Description: "Show the active resolution and execution mode"},
		{Name: "quit", Description: "Exit the application"},
		{Name: "exit", Description: "Exit the application"},
	}
}

// handleCommand processes slash commands, returns true if should quit
func handleCommand(input string, w io.Writer, a *app) bool {
	cmdName := strings.TrimPrefix(input, "/")
	cmdName = strings.ToLower(strings.TrimSpace(cmdName))

	a.logger.Debug().Str("command", cmdName).Msg("Executing command")

	switch cmdName {
	case "help":
		showHelp(w)
	case "capabilities":
		showCapabilities(w, a)
	case "tools":
		showTools(w, a)
	case "mode":
		showMode(w, a)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(w, "✗ Unknown command: /%s (type /help for available commands)\n", cmdName)
	}
	return false
}

func showHelp(w io.Writer) {
	fmt.Fprintln(w, "\nAvailable Commands:")
	for _, cmd := range getAvailableCommands() {
		fmt.Fprintf(w, "  /%-13s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(w, "\nAnything else is a question about this machine, e.g. \"is nginx running?\".")
	fmt.Fprintln(w, "\nKeyboard Shortcuts:")
	fmt.Fprintln(w, "  Ctrl+C       - Cancel the running command")
	fmt.Fprintln(w, "  Ctrl+D       - Exit")
	fmt.Fprintln(w, "  Tab          - Auto-complete commands")
	fmt.Fprintln(w)
}

func showCapabilities(w io.Writer, a *app) {
	fmt.Fprintln(w, "I can handle requests like:")
	for _, line := range a.matcher.Capabilities() {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// showTools lists the registered tools grouped by plugin.
func showTools(w io.Writer, a *app) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Tool\tDescription")
	fmt.Fprintln(tw, "────\t───────────")
	for _, plugin := range a.registry.Plugins() {
		fmt.Fprintf(tw, "[%s]\t%s\n", plugin.Name(), plugin.Description())
		toolList := append([]tools.Tool(nil), plugin.Tools()...)
		sort.Slice(toolList, func(i, j int) bool { return toolList[i].Name() < toolList[j].Name() })
		for _, tool := range toolList {
			fmt.Fprintf(tw, "  %s\t%s\n", tool.Name(), tool.Description())
		}
	}
	tw.Flush()
}

func showMode(w io.Writer, a *app) {
	backends := "none"
	if len(a.backends) > 0 {
		backends = strings.Join(a.backends, " → ")
	}
	fmt.Fprintf(w, "lite: %v  force-backends: %v  dry-run: %v  allow-protected: %v\n",
		a.mode.LiteOnly, a.mode.ForceBackends, a.mode.DryRun, a.mode.AllowDestructiveOverride)
	fmt.Fprintf(w, "backends: %s\n", backends)
	fmt.Fprintf(w, "working directory: %s\n", a.workDir)
}
