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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"terminalbot/internal/config"
)

type readlineAction int

const (
	readlineContinue readlineAction = iota
	readlineExit
	readlineUnhandled
)

func classifyReadlineError(line string, err error) readlineAction {
	switch {
	case err == nil:
		return readlineUnhandled
	case err == readline.ErrInterrupt:
		return readlineContinue
	case err == io.EOF:
		if strings.TrimSpace(line) == "" {
			return readlineExit
		}
		return readlineContinue
	default:
		return readlineUnhandled
	}
}

func runInteractive(cfg *config.Config, opts options, logger zerolog.Logger) int {
	logger.Debug().Msg("Running in interactive mode")

	a, err := newApp(cfg, opts, newTTYConfirmer(), logger)
	if err != nil {
		return fail(logger, err)
	}
	defer a.Close()

	historyFile, err := cfg.HistoryPath()
	if err != nil {
		logger.Warn().Err(err).Msg("history disabled")
		historyFile = ""
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "❯ ",
		HistoryFile:     historyFile,
		AutoComplete:    getCommandCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		FuncFilterInputRune: filterInterruptRune,
	})
	if err != nil {
		return fail(logger, fmt.Errorf("failed to initialize readline: %w", err))
	}
	defer rl.Close()

	fmt.Println("terminalbot by Dyne.org")
	showMode(os.Stdout, a)
	fmt.Println("Type /help for commands, Ctrl+D or /quit to exit")
	fmt.Println()

	canceler := &operationCanceler{}
	for {
		line, err := rl.Readline()
		if err != nil {
			switch classifyReadlineError(line, err) {
			case readlineContinue:
				continue
			case readlineExit:
			default:
				logger.Error().Err(err).Msg("readline failed")
			}
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handleCommand(line, os.Stdout, a) {
				break
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		canceler.Set(cancel)
		stop := watchInterrupts(canceler)
		_ = a.handle(ctx, line, rl.Stdout())
		stop()
		canceler.Clear()
		cancel()
	}

	logger.Info().Msg("Session ended")
	return 0
}

// getCommandCompleter builds a readline completer from available commands
func getCommandCompleter() *readline.PrefixCompleter {
	commands := getAvailableCommands()
	items := make([]readline.PrefixCompleterInterface, len(commands))
	for i, cmd := range commands {
		items[i] = readline.PcItem("/" + cmd.Name)
	}
	return readline.NewPrefixCompleter(items...)
}
