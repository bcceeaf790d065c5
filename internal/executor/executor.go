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

// Package executor runs materialized commands as bounded subprocesses and
// writes one audit record per run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"terminalbot/internal/audit"
	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/safety"
)

const (
	DefaultShell          = "/bin/sh"
	DefaultGrace          = 2 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024 * 1024
)

// Failure classifies an unsuccessful run.
type Failure string

const (
	FailureNone         Failure = ""
	FailureTimeout      Failure = "TIMEOUT"
	FailureNonZeroExit  Failure = "NONZERO_EXIT"
	FailureSpawn        Failure = "SPAWN_FAILURE"
	FailureCanceled     Failure = "CANCELED"
	FailureOutputCapped Failure = "OUTPUT_TRUNCATED"
)

// Request describes one command run.
type Request struct {
	Command        string
	WorkDir        string
	Timeout        time.Duration
	MaxOutputBytes int
	DryRun         bool
	QueryID        string
	Verdict        safety.Verdict
}

// Result is the outcome of Run. Stdout and Stderr each hold at most
// MaxOutputBytes.
type Result struct {
	Command   string
	Stdout    []byte
	Stderr    []byte
	ExitCode  *int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
	Failure   Failure
	DryRun    bool
	// Err is the spawn error when Failure is SPAWN_FAILURE before start.
	Err error
}

// Succeeded reports a zero exit with no failure class.
func (r Result) Succeeded() bool {
	return r.Failure == FailureNone && !r.DryRun
}

// Classes returns the failure class plus OUTPUT_TRUNCATED when output was
// capped. Truncation alone is informational.
func (r Result) Classes() []Failure {
	var classes []Failure
	if r.Failure != FailureNone {
		classes = append(classes, r.Failure)
	}
	if r.Truncated {
		classes = append(classes, FailureOutputCapped)
	}
	return classes
}

// Executor runs commands through a shell.
type Executor struct {
	Shell  string
	Grace  time.Duration
	Sink   audit.Sink
	Logger zerolog.Logger
}

// New returns an executor with default shell and grace period.
func New(sink audit.Sink, logger zerolog.Logger) *Executor {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Executor{Shell: DefaultShell, Grace: DefaultGrace, Sink: sink, Logger: logger}
}

// Run executes req and appends exactly one audit record. The returned
// error is non-nil only for an empty command or when the audit append
// fails; execution failures are reported through Result.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Result{}, apperrors.New(apperrors.CodeExecution, "empty command")
	}
	result := Result{Command: command}

	if req.DryRun {
		result.DryRun = true
		e.Logger.Info().Str("command", command).Msg("dry run")
		return result, e.record(ctx, req, result, audit.OutcomeDryRun)
	}

	limit := req.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)
	cmd := exec.Command(e.shell(), "-c", command)
	cmd.Dir = req.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.grace()
	configureProcess(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		result.Failure = FailureSpawn
		result.Err = err
		e.Logger.Warn().Err(err).Str("command", command).Msg("spawn failed")
		return result, e.record(ctx, req, result, audit.OutcomeSpawnFailure)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
		// background children may outlive the shell
		signalGroup(cmd, true)
	case <-timer.C:
		result.TimedOut = true
		waitErr = e.terminate(cmd, done)
	case <-ctx.Done():
		result.Failure = FailureCanceled
		waitErr = e.terminate(cmd, done)
	}
	result.Duration = time.Since(start)
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// the shell exited but a child kept the pipes open
		e.Logger.Debug().Str("command", command).Msg("output pipes held past exit")
		waitErr = nil
	}
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	result.Truncated = stdout.Truncated() || stderr.Truncated()

	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			result.ExitCode = &code
		}
	}

	outcome := audit.OutcomeExecuted
	switch {
	case result.Failure == FailureCanceled:
		outcome = audit.OutcomeCanceled
	case result.TimedOut:
		result.Failure = FailureTimeout
		outcome = audit.OutcomeTimeout
	case result.ExitCode != nil && (*result.ExitCode == 126 || *result.ExitCode == 127):
		result.Failure = FailureSpawn
		outcome = audit.OutcomeSpawnFailure
	case result.ExitCode != nil && *result.ExitCode != 0:
		result.Failure = FailureNonZeroExit
	case waitErr != nil && !isExitError(waitErr):
		result.Failure = FailureSpawn
		result.Err = waitErr
		outcome = audit.OutcomeSpawnFailure
	}

	e.Logger.Debug().
		Str("command", command).
		Str("failure", string(result.Failure)).
		Bool("truncated", result.Truncated).
		Int64("duration_ms", result.Duration.Milliseconds()).
		Msg("command finished")
	return result, e.record(ctx, req, result, outcome)
}

// Record appends an audit entry for a command that was never run, such
// as a blocked or declined one.
func (e *Executor) Record(ctx context.Context, queryID, command string, verdict safety.Verdict, outcome audit.Outcome) error {
	return e.record(ctx, Request{Command: command, QueryID: queryID, Verdict: verdict}, Result{Command: command}, outcome)
}

func (e *Executor) record(ctx context.Context, req Request, result Result, outcome audit.Outcome) error {
	sink := e.Sink
	if sink == nil {
		return nil
	}
	rec := audit.Record{
		ID:         uuid.NewString(),
		QueryID:    req.QueryID,
		Timestamp:  time.Now(),
		Command:    strings.TrimSpace(req.Command),
		Verdict:    string(req.Verdict.Class),
		Rule:       req.Verdict.Rule,
		Outcome:    outcome,
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
		Truncated:  result.Truncated,
	}
	// canceled queries are still audited
	if err := sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.Logger.Error().Err(err).Str("outcome", string(outcome)).Msg("audit append failed")
		return fmt.Errorf("audit %s: %w", outcome, err)
	}
	return nil
}

// terminate signals the process group with SIGTERM, escalates to SIGKILL
// after the grace period and returns the Wait result.
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) error {
	signalGroup(cmd, false)
	grace := time.NewTimer(e.grace())
	defer grace.Stop()
	var err error
	select {
	case err = <-done:
	case <-grace.C:
		e.Logger.Debug().Int("pid", cmd.Process.Pid).Msg("grace period elapsed, killing")
		signalGroup(cmd, true)
		err = <-done
	}
	// stragglers left in the group
	signalGroup(cmd, true)
	return err
}

func (e *Executor) shell() string {
	if e.Shell == "" {
		return DefaultShell
	}
	return e.Shell
}

func (e *Executor) grace() time.Duration {
	if e.Grace <= 0 {
		return DefaultGrace
	}
	return e.Grace
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
