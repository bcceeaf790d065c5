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

// Package agent runs a query through the whole pipeline: resolution,
// command materialization, safety verdict, confirmation, execution and
// audit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"terminalbot/internal/audit"
	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/executor"
	"terminalbot/internal/orchestrator"
	"terminalbot/internal/safety"
	"terminalbot/internal/tools"
)

// ProcessLister provides the process snapshot handed to the validator.
type ProcessLister interface {
	Snapshot(ctx context.Context) (map[int]string, error)
}

// Config wires the agent's collaborators.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *tools.Registry
	Validator    *safety.Validator
	Executor     *executor.Executor
	Processes    ProcessLister
	Confirmer    Confirmer

	// WorkDir is used when a query carries none.
	WorkDir        string
	Timeout        time.Duration
	MaxOutputBytes int
	// NativeFallback runs a SAFE tool's in-process handler when its shell
	// command could not be spawned.
	NativeFallback bool
	// AnalyzeResults sends the output of a completed run back through the
	// backend chain. Lite queries are never analyzed.
	AnalyzeResults bool

	Logger zerolog.Logger
}

// Agent is safe for concurrent use; every field is read-only after New.
type Agent struct {
	cfg Config
}

// New validates cfg and returns an agent.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Orchestrator == nil:
		return nil, apperrors.New(apperrors.CodeConfig, "agent: orchestrator is required")
	case cfg.Registry == nil:
		return nil, apperrors.New(apperrors.CodeConfig, "agent: registry is required")
	case cfg.Validator == nil:
		return nil, apperrors.New(apperrors.CodeConfig, "agent: validator is required")
	case cfg.Executor == nil:
		return nil, apperrors.New(apperrors.CodeConfig, "agent: executor is required")
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = DenyAll
	}
	cfg.Logger = cfg.Logger.With().Str("component", "agent").Logger()
	return &Agent{cfg: cfg}, nil
}

// Orchestrator returns the resolver the agent uses.
func (a *Agent) Orchestrator() *orchestrator.Orchestrator {
	return a.cfg.Orchestrator
}

// Outcome is everything a query produced.
type Outcome struct {
	Query      orchestrator.Query
	Resolution orchestrator.Resolution
	// Answer is set when a backend replied in text; nothing runs then.
	Answer    string
	Command   string
	Verdict   safety.Verdict
	Confirmed bool
	Result    *executor.Result
	// Native is the in-process handler output after a spawn failure.
	Native string
	// Analysis is a backend's reading of the command output, and
	// AnalysisSource the backend that wrote it.
	Analysis       string
	AnalysisSource string
}

// Executed reports whether a subprocess was started.
func (o Outcome) Executed() bool {
	return o.Result != nil && !o.Result.DryRun && o.Result.Failure != executor.FailureSpawn
}

// Handle resolves and, when allowed, runs q. At most one command runs.
func (a *Agent) Handle(ctx context.Context, q orchestrator.Query) (Outcome, error) {
	logger := a.cfg.Logger.With().Str("query_id", q.ID).Logger()
	out := Outcome{Query: q}

	res, err := a.cfg.Orchestrator.Resolve(ctx, q)
	out.Resolution = res
	if err != nil {
		return out, err
	}
	if res.IsAnswer() {
		out.Answer = res.Answer
		logger.Info().Str("backend", res.Source).Msg("answered without a command")
		return out, nil
	}

	command, err := a.cfg.Registry.Materialize(res.Invocation)
	if err != nil {
		return out, err
	}
	out.Command = command

	snapshot, err := a.snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		logger.Warn().Err(err).Msg("process snapshot unavailable, validating by name only")
	}
	verdict := a.cfg.Validator.Validate(command, safety.Context{
		Processes: snapshot,
		Override:  q.Mode.AllowDestructiveOverride,
	})
	out.Verdict = verdict
	logger.Info().Str("tool", res.Invocation.Tool).Str("verdict", string(verdict.Class)).Str("rule", verdict.Rule).Msg("command classified")

	switch verdict.Class {
	case safety.Blocked:
		if err := a.cfg.Executor.Record(ctx, q.ID, command, verdict, audit.OutcomeBlocked); err != nil {
			logger.Error().Err(err).Msg("audit append failed")
		}
		return out, &BlockedError{Command: command, Verdict: verdict}
	case safety.NeedsConfirmation:
		if q.Mode.DryRun {
			break
		}
		ok, err := a.cfg.Confirmer.Confirm(ctx, Prompt{QueryID: q.ID, Command: command, Invocation: res.Invocation, Verdict: verdict})
		if err != nil {
			return out, fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			if err := a.cfg.Executor.Record(ctx, q.ID, command, verdict, audit.OutcomeUserDeclined); err != nil {
				logger.Error().Err(err).Msg("audit append failed")
			}
			return out, &DeclinedError{Command: command, Verdict: verdict}
		}
		out.Confirmed = true
	}

	workDir := q.WorkDir
	if workDir == "" {
		workDir = a.cfg.WorkDir
	}
	result, runErr := a.cfg.Executor.Run(ctx, executor.Request{
		Command:        command,
		WorkDir:        workDir,
		Timeout:        a.cfg.Timeout,
		MaxOutputBytes: a.cfg.MaxOutputBytes,
		DryRun:         q.Mode.DryRun,
		QueryID:        q.ID,
		Verdict:        verdict,
	})
	out.Result = &result
	if runErr != nil {
		return out, runErr
	}

	if a.cfg.NativeFallback && result.Failure == executor.FailureSpawn && verdict.Class == safety.Safe {
		native, err := a.cfg.Registry.Invoke(ctx, res.Invocation.Tool, res.Invocation.Args)
		switch {
		case err == nil:
			out.Native = native
			logger.Info().Str("tool", res.Invocation.Tool).Msg("used in-process handler after spawn failure")
		case !errors.Is(err, tools.ErrNoHandler):
			logger.Warn().Err(err).Str("tool", res.Invocation.Tool).Msg("in-process handler failed")
		}
	}

	if a.shouldAnalyze(q, result) {
		analysis, err := a.cfg.Orchestrator.Analyze(ctx, q, command, string(result.Stdout)+string(result.Stderr))
		if err != nil {
			// the raw output stands on its own
			logger.Warn().Err(err).Msg("output analysis failed")
		} else {
			out.Analysis = analysis.Text
			out.AnalysisSource = analysis.Source
		}
	}
	return out, nil
}

// shouldAnalyze reports a run that completed, with any exit code, in a
// mode that allows backend calls.
func (a *Agent) shouldAnalyze(q orchestrator.Query, result executor.Result) bool {
	if !a.cfg.AnalyzeResults || q.Mode.LiteOnly || result.DryRun {
		return false
	}
	if result.Failure != executor.FailureNone && result.Failure != executor.FailureNonZeroExit {
		return false
	}
	return a.cfg.Orchestrator.CanAnalyze()
}

func (a *Agent) snapshot(ctx context.Context) (map[int]string, error) {
	if a.cfg.Processes == nil {
		return nil, nil
	}
	return a.cfg.Processes.Snapshot(ctx)
}
