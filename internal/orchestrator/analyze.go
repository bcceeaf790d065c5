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

package orchestrator

import (
	"context"
	"strings"
	"time"

	"terminalbot/internal/backend"
	apperrors "terminalbot/internal/errors"
)

// Analysis is a backend's reading of command output.
type Analysis struct {
	Text     string
	Source   string
	Failures []Failure
	Elapsed  time.Duration
}

// CanAnalyze reports whether any backend in the chain can analyze output.
func (o *Orchestrator) CanAnalyze() bool {
	for _, b := range o.chain {
		if _, ok := b.(backend.Analyzer); ok {
			return true
		}
	}
	return false
}

// Analyze sends the output of command back through the backend chain, in
// chain order and under each backend's timeout, and returns the first
// analysis. Backends that cannot analyze are skipped.
func (o *Orchestrator) Analyze(ctx context.Context, q Query, command, output string) (Analysis, error) {
	start := time.Now()
	logger := o.logger.With().Str("query_id", q.ID).Logger()
	var res Analysis
	req := backend.AnalysisRequest{Query: q.Text, Command: command, Output: output}
	for _, b := range o.chain {
		analyzer, ok := b.(backend.Analyzer)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		callCtx, cancel := context.WithTimeout(ctx, b.Timeout())
		text, err := analyzer.Analyze(callCtx, req)
		cancel()
		if err == nil {
			res.Text = text
			res.Source = b.Name()
			res.Elapsed = time.Since(start)
			logger.Info().Str("backend", b.Name()).Dur("latency", res.Elapsed).Msg("output analyzed")
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		classified := backend.Classify(b.Name(), err)
		res.Failures = append(res.Failures, Failure{Backend: b.Name(), Class: string(classified.Class), Err: classified})
		logger.Warn().Str("backend", b.Name()).Str("class", string(classified.Class)).Err(err).Msg("analysis failed")
	}
	res.Elapsed = time.Since(start)
	if len(res.Failures) == 0 {
		return res, apperrors.New(apperrors.CodeBackend, "no backend can analyze output")
	}
	parts := make([]string, len(res.Failures))
	for i, f := range res.Failures {
		parts[i] = f.String()
	}
	return res, apperrors.Newf(apperrors.CodeBackend, "analysis failed (%s)", strings.Join(parts, "; "))
}
