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
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"terminalbot/internal/agent"
	"terminalbot/internal/executor"
	"terminalbot/internal/orchestrator"
)

// renderOutcome prints what a query produced. Output is sanitized before
// it reaches the terminal.
func renderOutcome(w io.Writer, out agent.Outcome, err error) {
	if err != nil {
		renderError(w, err)
		return
	}
	if out.Answer != "" {
		fmt.Fprintf(w, "⟫ %s\n", executor.Sanitize(out.Answer))
		return
	}
	if out.Result == nil {
		return
	}
	r := out.Result
	if r.DryRun {
		fmt.Fprintf(w, "[dry-run] would run: %s\n", out.Command)
		fmt.Fprintf(w, "          verdict: %s (%s)\n", out.Verdict.Class, out.Verdict.Reason)
		return
	}

	fmt.Fprintf(w, "$ %s\n", out.Command)
	writeBlock(w, string(r.Stdout))
	writeBlock(w, string(r.Stderr))
	if out.Native != "" {
		fmt.Fprintln(w, "(shell unavailable, answered in-process)")
		writeBlock(w, out.Native)
	}
	if classes := r.Classes(); len(classes) > 0 {
		tags := make([]string, len(classes))
		for i, c := range classes {
			tags[i] = string(c)
		}
		status := strings.Join(tags, ", ")
		if r.ExitCode != nil {
			status += fmt.Sprintf(", exit %d", *r.ExitCode)
		}
		fmt.Fprintf(w, "[%s after %s]\n", status, r.Duration.Round(time.Millisecond))
	}
	if out.Analysis != "" {
		fmt.Fprintf(w, "⟫ %s\n", executor.Sanitize(out.Analysis))
	}
}

func renderError(w io.Writer, err error) {
	var noRes *orchestrator.NoResolutionError
	var blocked *agent.BlockedError
	var declined *agent.DeclinedError
	switch {
	case errors.As(err, &noRes):
		fmt.Fprintf(w, "✗ %s\n", noRes.Error())
		if hint := noRes.Hint(); hint != "" {
			fmt.Fprint(w, hint)
		}
	case errors.As(err, &blocked):
		fmt.Fprintf(w, "✗ Blocked: %s\n  %s\n", blocked.Command, blocked.Verdict.Reason)
		for _, entity := range blocked.Verdict.Protected {
			fmt.Fprintf(w, "  protected: %s\n", entity)
		}
	case errors.As(err, &declined):
		fmt.Fprintf(w, "Skipped: %s\n", declined.Command)
	default:
		fmt.Fprintf(w, "✗ Error: %v\n", err)
	}
}

func writeBlock(w io.Writer, text string) {
	text = executor.Sanitize(text)
	if text == "" {
		return
	}
	fmt.Fprint(w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(w)
	}
}
