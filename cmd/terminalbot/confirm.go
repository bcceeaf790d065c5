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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"terminalbot/internal/agent"
)

type approvalDecision int

const (
	approvalUnknown approvalDecision = iota
	approvalYes
	approvalNo
)

// newTTYConfirmer asks on the controlling terminal. Without one, every
// destructive command is declined.
func newTTYConfirmer() agent.Confirmer {
	return agent.ConfirmFunc(func(ctx context.Context, prompt agent.Prompt) (bool, error) {
		input := os.Stdin
		output := io.Writer(os.Stdout)
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
			if err != nil {
				fmt.Fprintln(os.Stderr, "No TTY available for confirmation, declining.")
				return false, nil
			}
			defer tty.Close()
			input = tty
			output = tty
		}
		return promptConfirmation(ctx, input, output, prompt)
	})
}

// promptConfirmation asks until it gets a yes or a no. An empty answer
// means no.
func promptConfirmation(ctx context.Context, input io.Reader, output io.Writer, prompt agent.Prompt) (bool, error) {
	fmt.Fprintf(output, "⚠ %s\n", prompt.Verdict.Reason)
	for _, entity := range prompt.Verdict.Protected {
		fmt.Fprintf(output, "  protected: %s\n", entity)
	}

	// the reader goroutine outlives a canceled prompt until its read returns
	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(input)
		for {
			line, err := reader.ReadString('\n')
			if line != "" && (err == nil || err == io.EOF) {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for {
		fmt.Fprintf(output, "Run `%s`? (yes/No): ", prompt.Command)
		select {
		case <-ctx.Done():
			fmt.Fprintln(output)
			return false, ctx.Err()
		case err := <-errs:
			if err == io.EOF {
				fmt.Fprintln(output)
				return false, nil
			}
			return false, err
		case line := <-lines:
			switch parseApprovalInput(line) {
			case approvalYes:
				return true, nil
			case approvalNo:
				return false, nil
			default:
				fmt.Fprintln(output, "Please enter yes or no.")
			}
		}
	}
}

func parseApprovalInput(input string) approvalDecision {
	normalized := strings.TrimSpace(strings.ToLower(input))
	if normalized == "" {
		return approvalNo
	}
	switch {
	case isPrefixToken(normalized, "yes"):
		return approvalYes
	case isPrefixToken(normalized, "no"):
		return approvalNo
	default:
		return approvalUnknown
	}
}

func isPrefixToken(input, target string) bool {
	if input == "" || len(input) > len(target) {
		return false
	}
	return strings.HasPrefix(target, input)
}
