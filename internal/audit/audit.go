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

// Package audit persists one record per command decision. Sinks are
// append-only: records are never read back, mutated or deleted.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "terminalbot/internal/errors"
)

// Outcome tags what happened to a command.
type Outcome string

const (
	OutcomeExecuted     Outcome = "EXECUTED"
	OutcomeTimeout      Outcome = "TIMEOUT"
	OutcomeSpawnFailure Outcome = "SPAWN_FAILURE"
	OutcomeCanceled     Outcome = "CANCELED"
	OutcomeBlocked      Outcome = "BLOCKED"
	OutcomeUserDeclined Outcome = "USER_DECLINED"
	OutcomeDryRun       Outcome = "DRY_RUN"
)

// Record is one audit log entry.
type Record struct {
	ID         string    `json:"id"`
	QueryID    string    `json:"query_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	Verdict    string    `json:"verdict"`
	Rule       string    `json:"rule,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	ExitCode   *int      `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	Truncated  bool      `json:"truncated"`
}

// Sink accepts records. Implementations serialize concurrent appends.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverNone   = "none"
)

// Open returns the sink selected by driver. An empty driver means file.
func Open(driver, path string) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile, "jsonl":
		return OpenFile(path)
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverMemory:
		return NewMemorySink(), nil
	case DriverNone:
		return Discard{}, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeConfig, "unknown audit driver %q", driver)
	}
}

// Discard drops every record.
type Discard struct{}

func (Discard) Append(context.Context, Record) error { return nil }
func (Discard) Close() error                         { return nil }

func appendError(err error) error {
	return apperrors.Wrap(apperrors.CodeAudit, "append audit record", err)
}

func stamp(rec Record) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

func (r Record) String() string {
	exit := "-"
	if r.ExitCode != nil {
		exit = fmt.Sprint(*r.ExitCode)
	}
	return fmt.Sprintf("%s %s %s exit=%s %dms %q", r.Timestamp.Format(time.RFC3339), r.Outcome, r.Verdict, exit, r.DurationMS, r.Command)
}
