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
	"os/signal"
	"strings"
)

// runBatch handles one query per input line and returns the exit status:
// 0 when every query succeeded, 1 otherwise.
func runBatch(a *app, input io.Reader, output io.Writer) int {
	a.logger.Debug().Msg("Running in batch mode")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	status := 0
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := a.handle(ctx, line, output); err != nil {
			status = 1
		}
		if ctx.Err() != nil {
			a.logger.Info().Msg("batch interrupted")
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Error().Err(err).Msg("error reading input")
		fmt.Fprintf(os.Stderr, "Error: error reading input: %v\n", err)
		return 1
	}
	return status
}
