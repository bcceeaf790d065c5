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
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"

	"terminalbot/internal/config"
)

var (
	debugMode      = flag.Bool("d", false, "enable debug logging")
	logFile        = flag.String("log-file", "", "write logs to this file")
	configPath     = flag.String("config", "config.json", "configuration file (JSON or YAML)")
	liteMode       = flag.Bool("lite", false, "resolve with rules only, never call a model backend")
	forceBackends  = flag.Bool("force-backends", false, "skip the rule matcher and ask the backends")
	dryRun         = flag.Bool("dry-run", false, "show what would run without running it")
	allowProtected = flag.Bool("allow-protected", false, "allow destructive commands on protected processes after confirmation (never PID 1)")
	printSchema    = flag.Bool("config-schema", false, "print the configuration JSON schema and exit")
	initConfig     = flag.Bool("init", false, "write a default configuration to -config and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run(flag.Args()))
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [query...]\n\n", os.Args[0])
	fmt.Fprintln(flag.CommandLine.Output(), "With a query, resolve and run it once. With \"-\", read one query per line from stdin.")
	fmt.Fprintln(flag.CommandLine.Output(), "Without arguments, start an interactive session.")
	fmt.Fprintln(flag.CommandLine.Output())
	flag.PrintDefaults()
}

func run(args []string) int {
	if *printSchema {
		fmt.Println(config.SchemaJSON())
		return 0
	}
	if *initConfig {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Wrote default configuration to %s\n", *configPath)
		return 0
	}

	logger, closer, err := initLogger(*debugMode, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.Info().Msg("terminalbot starting")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, w := range cfg.Validate() {
		logger.Warn().Str("field", w.Field).Msg(w.Message)
	}

	opts := options{
		lite:           *liteMode,
		forceBackends:  *forceBackends,
		dryRun:         *dryRun,
		allowProtected: *allowProtected,
	}

	switch {
	case len(args) == 1 && args[0] == "-":
		app, err := newApp(cfg, opts, newTTYConfirmer(), logger)
		if err != nil {
			return fail(logger, err)
		}
		defer app.Close()
		return runBatch(app, os.Stdin, os.Stdout)
	case len(args) > 0:
		app, err := newApp(cfg, opts, newTTYConfirmer(), logger)
		if err != nil {
			return fail(logger, err)
		}
		defer app.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := app.handle(ctx, strings.Join(args, " "), os.Stdout); err != nil {
			return 1
		}
		return 0
	default:
		return runInteractive(cfg, opts, logger)
	}
}

func fail(logger zerolog.Logger, err error) int {
	logger.Error().Err(err).Msg("startup failed")
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func initLogger(debug bool, logFilePath string) (zerolog.Logger, io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// logs never go to the console, the terminal belongs to command output
	if logFilePath == "" {
		return zerolog.New(io.Discard), nil, nil
	}
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zerolog.New(file).With().Timestamp().Logger(), file, nil
}
