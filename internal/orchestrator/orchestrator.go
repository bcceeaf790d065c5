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

// Package orchestrator resolves a query to a tool invocation or an answer,
// first through the rule matcher and then through the backend chain, one
// backend at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"terminalbot/internal/backend"
	"terminalbot/internal/matcher"
	"terminalbot/internal/tools"
)

// State is a step of the resolution state machine.
type State string

const (
	StateStart           State = "START"
	StateRuleMatch       State = "RULE_MATCH"
	StateBackendPrimary  State = "BACKEND_PRIMARY"
	StateBackendFallback State = "BACKEND_FALLBACK"
	StateResolved        State = "RESOLVED"
	StateNoResolution    State = "NO_RESOLUTION"
)

const defaultSuggestions = 3

// Transition is one recorded state change.
type Transition struct {
	From    State
	To      State
	Backend string
	Detail  string
}

// Resolution is the outcome of Resolve. Exactly one of Invocation or
// Answer is meaningful: IsAnswer tells which.
type Resolution struct {
	Query      Query
	State      State
	Invocation tools.Invocation
	Answer     string
	// Source is the rule ID or backend name that resolved the query.
	Source   string
	Trace    []Transition
	Failures []Failure
	Elapsed  time.Duration
}

// IsAnswer reports whether a backend answered directly.
func (r Resolution) IsAnswer() bool {
	return r.State == StateResolved && r.Answer != "" && r.Invocation.Tool == ""
}

// Orchestrator holds the immutable pieces a resolution reads.
type Orchestrator struct {
	registry *tools.Registry
	matcher  *matcher.Matcher
	chain    []backend.Backend
	logger   zerolog.Logger
}

// New returns an orchestrator over a sealed registry, a matcher built from
// it and an ordered backend chain, which may be empty.
func New(registry *tools.Registry, m *matcher.Matcher, chain []backend.Backend, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		matcher:  m,
		chain:    append([]backend.Backend(nil), chain...),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Chain returns the backend names in call order.
func (o *Orchestrator) Chain() []string {
	return backend.Names(o.chain)
}

// Matcher returns the rule matcher.
func (o *Orchestrator) Matcher() *matcher.Matcher {
	return o.matcher
}

type run struct {
	o      *Orchestrator
	res    Resolution
	state  State
	start  time.Time
	logger zerolog.Logger
}

func (r *run) move(to State, backendName, detail string) {
	r.res.Trace = append(r.res.Trace, Transition{From: r.state, To: to, Backend: backendName, Detail: detail})
	ev := r.logger.Debug().Str("from", string(r.state)).Str("state", string(to))
	if backendName != "" {
		ev = ev.Str("backend", backendName)
	}
	ev.Str("detail", detail).Msg("transition")
	r.state = to
	r.res.State = to
}

// Resolve runs the state machine for q. A miss everywhere yields a
// *NoResolutionError; cancellation of ctx aborts the chain with ctx's error.
func (o *Orchestrator) Resolve(ctx context.Context, q Query) (Resolution, error) {
	r := &run{
		o:      o,
		res:    Resolution{Query: q, State: StateStart},
		state:  StateStart,
		start:  time.Now(),
		logger: o.logger.With().Str("query_id", q.ID).Logger(),
	}
	res, err := r.resolve(ctx)
	res.Elapsed = time.Since(r.start)
	return res, err
}

func (r *run) resolve(ctx context.Context) (Resolution, error) {
	q := r.res.Query
	if err := ctx.Err(); err != nil {
		return r.res, err
	}

	if q.Mode.LiteOnly || !q.Mode.ForceBackends {
		r.move(StateRuleMatch, "", "")
		if inv, ok := r.o.matcher.Match(q.Text); ok {
			r.res.Invocation = inv
			r.res.Source = inv.Source
			r.move(StateResolved, "", "rule "+inv.Source)
			r.logger.Info().Str("tool", inv.Tool).Str("rule", inv.Source).Msg("resolved by rule")
			return r.res, nil
		}
		if q.Mode.LiteOnly {
			r.move(StateNoResolution, "", "no rule matched in lite mode")
			return r.res, r.noResolution(true)
		}
	}

	req := backend.Request{Query: q.Text, WorkDir: q.WorkDir, Catalog: r.o.registry.Catalog()}
	for i, b := range r.o.chain {
		state := StateBackendPrimary
		if i > 0 {
			state = StateBackendFallback
		}
		r.move(state, b.Name(), "")

		if err := ctx.Err(); err != nil {
			return r.res, err
		}
		resolved, failure := r.attempt(ctx, b, req)
		if resolved {
			return r.res, nil
		}
		if err := ctx.Err(); err != nil {
			r.logger.Info().Str("backend", b.Name()).Msg("query canceled during backend call")
			return r.res, err
		}
		r.res.Failures = append(r.res.Failures, failure)
		r.logger.Warn().Str("backend", b.Name()).Str("class", failure.Class).Err(failure.Err).Msg("backend failed")
	}

	r.move(StateNoResolution, "", fmt.Sprintf("%d backend(s) failed", len(r.res.Failures)))
	return r.res, r.noResolution(false)
}

// attempt calls one backend under its own timeout and validates the
// selected tool against the registry.
func (r *run) attempt(ctx context.Context, b backend.Backend, req backend.Request) (bool, Failure) {
	callCtx, cancel := context.WithTimeout(ctx, b.Timeout())
	defer cancel()

	start := time.Now()
	resp, err := b.Generate(callCtx, req)
	if err != nil {
		classified := backend.Classify(b.Name(), err)
		return false, Failure{Backend: b.Name(), Class: string(classified.Class), Err: classified}
	}
	latency := time.Since(start)

	switch resp.Kind {
	case backend.KindAnswer:
		r.res.Answer = resp.Text
		r.res.Source = b.Name()
		r.move(StateResolved, b.Name(), "answer")
		r.logger.Info().Str("backend", b.Name()).Dur("latency", latency).Msg("resolved with an answer")
		return true, Failure{}
	case backend.KindToolCall:
		tool, ok := r.o.registry.Lookup(resp.Tool)
		if !ok {
			return false, Failure{Backend: b.Name(), Class: ClassUnknownTool, Err: tools.NewNotFoundError(resp.Tool)}
		}
		args := resp.Args
		if args == nil {
			args = map[string]string{}
		}
		if err := tools.ValidateArgs(tool, args); err != nil {
			return false, Failure{Backend: b.Name(), Class: ClassInvalidArguments, Err: err}
		}
		r.res.Invocation = tools.Invocation{
			Tool:       tool.Name(),
			Args:       args,
			Provenance: tools.ProvenanceBackend,
			Source:     b.Name(),
		}
		r.res.Source = b.Name()
		r.move(StateResolved, b.Name(), "tool "+tool.Name())
		r.logger.Info().Str("backend", b.Name()).Str("tool", tool.Name()).Dur("latency", latency).Msg("resolved by backend")
		return true, Failure{}
	default:
		err := fmt.Errorf("%w: unknown response kind %q", backend.ErrMalformed, resp.Kind)
		return false, Failure{Backend: b.Name(), Class: string(backend.ClassMalformedResponse), Err: err}
	}
}

func (r *run) noResolution(lite bool) error {
	m := r.o.matcher
	return &NoResolutionError{
		Query:        r.res.Query.Text,
		Lite:         lite,
		Capabilities: m.Capabilities(),
		Suggestions:  m.Suggestions(r.res.Query.Text, defaultSuggestions),
		Failures:     append([]Failure(nil), r.res.Failures...),
	}
}

// AsNoResolution unwraps a *NoResolutionError from err.
func AsNoResolution(err error) (*NoResolutionError, bool) {
	var nr *NoResolutionError
	if errors.As(err, &nr) {
		return nr, true
	}
	return nil, false
}
