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
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"terminalbot/internal/agent"
	"terminalbot/internal/audit"
	"terminalbot/internal/backend"
	"terminalbot/internal/config"
	"terminalbot/internal/executor"
	"terminalbot/internal/matcher"
	"terminalbot/internal/orchestrator"
	"terminalbot/internal/plugins"
	"terminalbot/internal/procfs"
	"terminalbot/internal/safety"
	"terminalbot/internal/tools"
)

// options are the per-process mode flags.
type options struct {
	lite           bool
	forceBackends  bool
	dryRun         bool
	allowProtected bool
}

// app holds the assembled pipeline.
type app struct {
	agent    *agent.Agent
	registry *tools.Registry
	matcher  *matcher.Matcher
	backends []string
	sink     audit.Sink
	mode     orchestrator.Mode
	workDir  string
	logger   zerolog.Logger
}

var capabilitiesQuery = regexp.MustCompile(`(?i)^\s*(?:(?:list|show)\s+(?:your\s+)?capabilities|what\s+can\s+you\s+do|help)\s*\??\s*$`)

func newApp(cfg *config.Config, opts options, confirmer agent.Confirmer, logger zerolog.Logger) (*app, error) {
	exec, err := cfg.ExecutionDefaults()
	if err != nil {
		return nil, err
	}
	mode := orchestrator.Mode{
		LiteOnly:                 cfg.LiteMode || opts.lite,
		ForceBackends:            opts.forceBackends,
		DryRun:                   opts.dryRun,
		AllowDestructiveOverride: opts.allowProtected,
	}

	proc := procfs.New(cfg.ProcRoot)
	bundles := plugins.Builtin(plugins.Options{Proc: proc})
	registry, err := tools.BuildRegistry(bundles...)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(registry, matcher.CollectRules(bundles))
	if err != nil {
		return nil, err
	}

	var chain []backend.Backend
	if !mode.LiteOnly {
		if chain, err = backend.NewChain(cfg.BackendSettings(), logger); err != nil {
			return nil, err
		}
	}

	auditPath, err := cfg.AuditPath()
	if err != nil {
		return nil, err
	}
	sink, err := audit.Open(cfg.Audit.Driver, auditPath)
	if err != nil {
		return nil, err
	}
	runner := executor.New(sink, logger)
	runner.Shell = exec.Shell
	runner.Grace = exec.Grace

	a, err := agent.New(agent.Config{
		Orchestrator:   orchestrator.New(registry, m, chain, logger),
		Registry:       registry,
		Validator:      safety.NewValidator(cfg.SafetyPolicy()),
		Executor:       runner,
		Processes:      proc,
		Confirmer:      confirmer,
		WorkDir:        exec.WorkDir,
		Timeout:        exec.Timeout,
		MaxOutputBytes: exec.MaxOutputBytes,
		NativeFallback: exec.NativeFallback,
		AnalyzeResults: cfg.Backends.AnalyzeResults,
		Logger:         logger,
	})
	if err != nil {
		sink.Close()
		return nil, err
	}

	logger.Info().
		Int("tools", registry.Len()).
		Int("rules", m.Len()).
		Strs("backends", backend.Names(chain)).
		Bool("lite", mode.LiteOnly).
		Bool("dry_run", mode.DryRun).
		Msg("pipeline ready")

	return &app{
		agent:    a,
		registry: registry,
		matcher:  m,
		backends: backend.Names(chain),
		sink:     sink,
		mode:     mode,
		workDir:  exec.WorkDir,
		logger:   logger,
	}, nil
}

func (a *app) Close() error {
	return a.sink.Close()
}

// handle runs one query and renders its outcome to w.
func (a *app) handle(ctx context.Context, text string, w io.Writer) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if capabilitiesQuery.MatchString(text) {
		showCapabilities(w, a)
		return nil
	}
	q := orchestrator.NewQuery(text, a.workDir, a.mode)
	a.logger.Info().Str("query_id", q.ID).Str("user_input", text).Msg("query received")
	out, err := a.agent.Handle(ctx, q)
	renderOutcome(w, out, err)
	if err == nil && out.Result != nil && !out.Result.Succeeded() && !out.Result.DryRun && out.Native == "" {
		return fmt.Errorf("command failed: %s", out.Result.Failure)
	}
	return err
}
