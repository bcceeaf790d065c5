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
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"terminalbot/internal/backend"
	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/matcher"
	"terminalbot/internal/tools"
)

// mockBackend is a hand-written Backend with call tracking.
type mockBackend struct {
	name         string
	timeout      time.Duration
	GenerateFunc func(ctx context.Context, req backend.Request) (backend.Response, error)

	mu    sync.Mutex
	Calls []backend.Request
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Timeout() time.Duration {
	if m.timeout == 0 {
		return time.Second
	}
	return m.timeout
}

func (m *mockBackend) Generate(ctx context.Context, req backend.Request) (backend.Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return backend.Response{Kind: backend.KindAnswer, Text: "mock answer"}, nil
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func toolCall(tool string, args map[string]string) func(context.Context, backend.Request) (backend.Response, error) {
	return func(context.Context, backend.Request) (backend.Response, error) {
		return backend.Response{Kind: backend.KindToolCall, Tool: tool, Args: args}, nil
	}
}

func failing(class backend.Class) func(context.Context, backend.Request) (backend.Response, error) {
	return func(context.Context, backend.Request) (backend.Response, error) {
		return backend.Response{}, &backend.Error{Backend: "mock", Class: class, Err: errors.New("boom")}
	}
}

func newTestOrchestrator(t *testing.T, chain ...backend.Backend) *Orchestrator {
	t.Helper()
	plugin := &tools.PluginDefinition{
		NameValue: "processes",
		ToolsValue: []tools.Tool{
			&tools.ToolDefinition{
				NameValue:        "processes.find",
				DescriptionValue: "Find processes by name",
				ParametersValue: map[string]tools.Param{
					"name": {Type: tools.ParamString, Required: true},
				},
				CommandFunc: func(args map[string]string) (string, error) {
					return "pgrep -a " + tools.ShellQuote(args["name"]), nil
				},
			},
			&tools.ToolDefinition{
				NameValue:        "processes.top",
				DescriptionValue: "Top processes",
				CommandFunc:      tools.StaticCommand("ps aux --sort=-%cpu | head"),
			},
		},
	}
	registry, err := tools.BuildRegistry(plugin)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m, err := matcher.New(registry, []matcher.Rule{
		{ID: "find-running", Pattern: `is (?P<name>[\w.-]+) running`, Tool: "processes.find", Example: "is nginx running?"},
		{ID: "top", Pattern: `top processes`, Tool: "processes.top", Example: "top processes"},
	})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	return New(registry, m, chain, zerolog.Nop())
}

func states(trace []Transition) []State {
	out := make([]State, len(trace))
	for i, tr := range trace {
		out[i] = tr.To
	}
	return out
}

func TestRuleMatchResolvesWithoutBackends(t *testing.T) {
	primary := &mockBackend{name: "ollama"}
	o := newTestOrchestrator(t, primary)

	res, err := o.Resolve(context.Background(), NewQuery("Is nginx running?", "/", Mode{}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Invocation.Tool != "processes.find" || res.Invocation.Args["name"] != "nginx" {
		t.Fatalf("unexpected invocation %v", res.Invocation)
	}
	if res.Invocation.Provenance != tools.ProvenanceRule || res.Source != "find-running" {
		t.Fatalf("unexpected provenance %s/%s", res.Invocation.Provenance, res.Source)
	}
	if primary.callCount() != 0 {
		t.Fatal("backend must not be called on a rule hit")
	}
	if want := []State{StateRuleMatch, StateResolved}; !reflect.DeepEqual(states(res.Trace), want) {
		t.Fatalf("expected trace %v, got %v", want, states(res.Trace))
	}
}

func TestLiteModeNeverCallsBackends(t *testing.T) {
	primary := &mockBackend{name: "ollama"}
	o := newTestOrchestrator(t, primary)

	for _, mode := range []Mode{{LiteOnly: true}, {LiteOnly: true, ForceBackends: true}} {
		_, err := o.Resolve(context.Background(), NewQuery("why is my laptop hot", "/", mode))
		nr, ok := AsNoResolution(err)
		if !ok {
			t.Fatalf("expected NoResolutionError, got %v", err)
		}
		if !nr.Lite || len(nr.Capabilities) != 2 {
			t.Fatalf("unexpected error contents %+v", nr)
		}
		if !apperrors.HasCode(err, apperrors.CodeNoResolution) {
			t.Fatal("expected no_resolution code")
		}
	}
	if primary.callCount() != 0 {
		t.Fatalf("lite mode called the backend %d times", primary.callCount())
	}

	res, err := o.Resolve(context.Background(), NewQuery("top processes", "/", Mode{LiteOnly: true, ForceBackends: true}))
	if err != nil || res.Invocation.Tool != "processes.top" {
		t.Fatalf("lite must still consult rules, got %v / %v", res.Invocation, err)
	}
}

func TestForceBackendsBypassesMatcher(t *testing.T) {
	primary := &mockBackend{name: "ollama", GenerateFunc: toolCall("processes.top", nil)}
	o := newTestOrchestrator(t, primary)

	res, err := o.Resolve(context.Background(), NewQuery("is nginx running?", "/srv", Mode{ForceBackends: true}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Invocation.Tool != "processes.top" || res.Invocation.Provenance != tools.ProvenanceBackend {
		t.Fatalf("expected backend resolution, got %v", res.Invocation)
	}
	if want := []State{StateBackendPrimary, StateResolved}; !reflect.DeepEqual(states(res.Trace), want) {
		t.Fatalf("expected trace %v, got %v", want, states(res.Trace))
	}
	call := primary.Calls[0]
	if call.WorkDir != "/srv" || len(call.Catalog) != 2 {
		t.Fatalf("unexpected backend request %+v", call)
	}
}

func TestRuleMatchIgnoresChainConfiguration(t *testing.T) {
	chains := [][]backend.Backend{
		nil,
		{&mockBackend{name: "ollama"}},
		{&mockBackend{name: "openai", GenerateFunc: failing(backend.ClassAuth)}, &mockBackend{name: "ollama"}},
	}
	var first tools.Invocation
	for i, chain := range chains {
		o := newTestOrchestrator(t, chain...)
		res, err := o.Resolve(context.Background(), NewQuery("is postgres running", "/", Mode{}))
		if err != nil {
			t.Fatalf("chain %d: %v", i, err)
		}
		if i == 0 {
			first = res.Invocation
			continue
		}
		if !first.Equal(res.Invocation) {
			t.Fatalf("chain %d resolved %v, expected %v", i, res.Invocation, first)
		}
	}
}

func TestFallbackAfterPrimaryFailure(t *testing.T) {
	cases := []struct {
		name    string
		primary func(context.Context, backend.Request) (backend.Response, error)
		class   string
	}{
		{"timeout", failing(backend.ClassTimeout), string(backend.ClassTimeout)},
		{"auth", failing(backend.ClassAuth), string(backend.ClassAuth)},
		{"unknown tool", toolCall("processes.nuke", nil), ClassUnknownTool},
		{"missing argument", toolCall("processes.find", map[string]string{}), ClassInvalidArguments},
		{"bad kind", func(context.Context, backend.Request) (backend.Response, error) {
			return backend.Response{Kind: "SHRUG"}, nil
		}, string(backend.ClassMalformedResponse)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			primary := &mockBackend{name: "ollama", GenerateFunc: tc.primary}
			fallback := &mockBackend{name: "openai", GenerateFunc: toolCall("processes.find", map[string]string{"name": "redis"})}
			o := newTestOrchestrator(t, primary, fallback)

			res, err := o.Resolve(context.Background(), NewQuery("what is eating memory", "/", Mode{}))
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Source != "openai" || res.Invocation.Args["name"] != "redis" {
				t.Fatalf("expected fallback resolution, got %+v", res)
			}
			if len(res.Failures) != 1 || res.Failures[0].Class != tc.class || res.Failures[0].Backend != "ollama" {
				t.Fatalf("unexpected failures %v", res.Failures)
			}
			want := []State{StateRuleMatch, StateBackendPrimary, StateBackendFallback, StateResolved}
			if !reflect.DeepEqual(states(res.Trace), want) {
				t.Fatalf("expected trace %v, got %v", want, states(res.Trace))
			}
		})
	}
}

func TestPrimaryTimeoutThenFallback(t *testing.T) {
	primary := &mockBackend{
		name:    "ollama",
		timeout: 100 * time.Millisecond,
		GenerateFunc: func(ctx context.Context, req backend.Request) (backend.Response, error) {
			<-ctx.Done()
			return backend.Response{}, ctx.Err()
		},
	}
	fallback := &mockBackend{name: "openai", GenerateFunc: toolCall("processes.top", nil)}
	o := newTestOrchestrator(t, primary, fallback)

	res, err := o.Resolve(context.Background(), NewQuery("what is slow", "/", Mode{}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != "openai" || res.Failures[0].Class != string(backend.ClassTimeout) {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if res.Elapsed < 100*time.Millisecond || res.Elapsed > 2*time.Second {
		t.Fatalf("expected latency close to the primary timeout, got %v", res.Elapsed)
	}
	if fallback.callCount() != 1 {
		t.Fatalf("expected exactly one fallback call, got %d", fallback.callCount())
	}
}

func TestEveryBackendTriedInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func(context.Context, backend.Request) (backend.Response, error) {
		return func(context.Context, backend.Request) (backend.Response, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return backend.Response{}, &backend.Error{Backend: name, Class: backend.ClassConnection, Err: errors.New("refused")}
		}
	}
	chain := []backend.Backend{
		&mockBackend{name: "ollama", GenerateFunc: record("ollama")},
		&mockBackend{name: "openai", GenerateFunc: record("openai")},
		&mockBackend{name: "anthropic", GenerateFunc: record("anthropic")},
	}
	o := newTestOrchestrator(t, chain...)

	res, err := o.Resolve(context.Background(), NewQuery("something odd", "/", Mode{}))
	nr, ok := AsNoResolution(err)
	if !ok {
		t.Fatalf("expected NoResolutionError, got %v", err)
	}
	if want := []string{"ollama", "openai", "anthropic"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("expected call order %v, got %v", want, order)
	}
	if len(nr.Failures) != 3 || nr.Lite {
		t.Fatalf("unexpected error %+v", nr)
	}
	want := []State{StateRuleMatch, StateBackendPrimary, StateBackendFallback, StateBackendFallback, StateNoResolution}
	if !reflect.DeepEqual(states(res.Trace), want) {
		t.Fatalf("expected trace %v, got %v", want, states(res.Trace))
	}
}

func TestEmptyChainIsNoResolution(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Resolve(context.Background(), NewQuery("processes hogging memory", "/", Mode{}))
	nr, ok := AsNoResolution(err)
	if !ok {
		t.Fatalf("expected NoResolutionError, got %v", err)
	}
	if len(nr.Suggestions) == 0 || nr.Hint() == "" {
		t.Fatalf("expected suggestions, got %+v", nr)
	}
}

func TestBackendAnswerResolves(t *testing.T) {
	primary := &mockBackend{name: "ollama"}
	fallback := &mockBackend{name: "openai"}
	o := newTestOrchestrator(t, primary, fallback)

	res, err := o.Resolve(context.Background(), NewQuery("what does load average mean", "/", Mode{}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.IsAnswer() || res.Answer != "mock answer" || res.Invocation.Tool != "" {
		t.Fatalf("expected an answer, got %+v", res)
	}
	if fallback.callCount() != 0 {
		t.Fatal("fallback must not be called after an answer")
	}
}

func TestParentCancellationAbortsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mockBackend{
		name:    "ollama",
		timeout: 10 * time.Second,
		GenerateFunc: func(ctx context.Context, req backend.Request) (backend.Response, error) {
			cancel()
			<-ctx.Done()
			return backend.Response{}, ctx.Err()
		},
	}
	fallback := &mockBackend{name: "openai"}
	o := newTestOrchestrator(t, primary, fallback)

	_, err := o.Resolve(ctx, NewQuery("anything", "/", Mode{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fallback.callCount() != 0 {
		t.Fatal("fallback must not run after cancellation")
	}

	_, err = o.Resolve(ctx, NewQuery("is nginx running", "/", Mode{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled context to short-circuit, got %v", err)
	}
}

func TestConcurrentResolutions(t *testing.T) {
	primary := &mockBackend{name: "ollama", GenerateFunc: toolCall("processes.top", nil)}
	o := newTestOrchestrator(t, primary)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "is nginx running"
			if i%2 == 1 {
				text = "unmatched query"
			}
			res, err := o.Resolve(context.Background(), NewQuery(text, "/", Mode{}))
			if err != nil {
				errs <- err
				return
			}
			if res.Invocation.Tool == "" {
				errs <- errors.New("missing invocation")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if primary.callCount() != 8 {
		t.Fatalf("expected 8 backend calls, got %d", primary.callCount())
	}
}

func TestNewQuery(t *testing.T) {
	a := NewQuery("  is sshd running?\n", "/tmp", Mode{DryRun: true})
	b := NewQuery("is sshd running?", "/tmp", Mode{DryRun: true})
	if a.Text != "is sshd running?" || a.ID == "" || a.ID == b.ID {
		t.Fatalf("unexpected queries %+v %+v", a, b)
	}
	if got := newTestOrchestrator(t, &mockBackend{name: "x"}).Chain(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("unexpected chain %v", got)
	}
}
