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

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"terminalbot/internal/audit"
	"terminalbot/internal/backend"
	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/executor"
	"terminalbot/internal/matcher"
	"terminalbot/internal/orchestrator"
	"terminalbot/internal/plugins"
	"terminalbot/internal/procfs"
	"terminalbot/internal/safety"
	"terminalbot/internal/tools"
)

type mockBackend struct {
	name         string
	timeout      time.Duration
	GenerateFunc func(ctx context.Context, req backend.Request) (backend.Response, error)

	mu    sync.Mutex
	Calls int
}

func (m *mockBackend) Name() string           { return m.name }
func (m *mockBackend) Timeout() time.Duration { return m.timeout }

func (m *mockBackend) Generate(ctx context.Context, req backend.Request) (backend.Response, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return m.GenerateFunc(ctx, req)
}

// analyzingBackend is a mockBackend that also analyzes command output.
type analyzingBackend struct {
	*mockBackend
	AnalyzeFunc func(ctx context.Context, req backend.AnalysisRequest) (string, error)

	Analyses []backend.AnalysisRequest
}

func (a *analyzingBackend) Analyze(ctx context.Context, req backend.AnalysisRequest) (string, error) {
	a.mu.Lock()
	a.Analyses = append(a.Analyses, req)
	a.mu.Unlock()
	if a.AnalyzeFunc != nil {
		return a.AnalyzeFunc(ctx, req)
	}
	return "the greeting printed fine", nil
}

type mockConfirmer struct {
	Answer  bool
	Err     error
	Prompts []Prompt
}

func (m *mockConfirmer) Confirm(_ context.Context, prompt Prompt) (bool, error) {
	m.Prompts = append(m.Prompts, prompt)
	return m.Answer, m.Err
}

// testPlugin adds commands that are harmless to run for real.
type testPlugin struct {
	tools.PluginDefinition
}

func (p *testPlugin) Rules() []matcher.Rule {
	return []matcher.Rule{
		{ID: "test.flood", Pattern: `^flood the output$`, Priority: 100, Tool: "test.flood"},
		{ID: "test.remove", Pattern: `^delete scratch file (?P<file>\S+)$`, Priority: 100, Tool: "test.remove"},
		{ID: "test.hello", Pattern: `^say hello$`, Priority: 100, Tool: "test.hello"},
	}
}

func newTestPlugin() *testPlugin {
	return &testPlugin{PluginDefinition: tools.PluginDefinition{
		NameValue:        "test",
		DescriptionValue: "test commands",
		ToolsValue: []tools.Tool{
			&tools.ToolDefinition{
				NameValue:        "test.flood",
				DescriptionValue: "Write 20000 bytes to stdout",
				CommandFunc:      tools.StaticCommand("head -c 20000 /dev/zero"),
			},
			&tools.ToolDefinition{
				NameValue:        "test.hello",
				DescriptionValue: "Greet on stdout",
				CommandFunc:      tools.StaticCommand("echo hello"),
			},
			&tools.ToolDefinition{
				NameValue:        "test.remove",
				DescriptionValue: "Remove one file",
				ParametersValue:  map[string]tools.Param{"file": {Type: tools.ParamString, Required: true}},
				CommandFunc: func(args map[string]string) (string, error) {
					return "rm -- " + tools.ShellQuote(args["file"]), nil
				},
			},
		},
	}}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fakeProc(t *testing.T) *procfs.Reader {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "1", "comm"), "systemd\n")
	writeFile(t, filepath.Join(root, "812", "comm"), "sshd\n")
	writeFile(t, filepath.Join(root, "4242", "comm"), "python3\n")
	writeFile(t, filepath.Join(root, "uptime"), "93784.52 1000.00\n")
	return procfs.New(root)
}

type fixture struct {
	agent     *Agent
	sink      *audit.MemorySink
	executor  *executor.Executor
	confirmer *mockConfirmer
	workDir   string
}

func newFixture(t *testing.T, chain ...backend.Backend) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	proc := fakeProc(t)
	bundles := append(plugins.Builtin(plugins.Options{Proc: proc}), newTestPlugin())
	registry, err := tools.BuildRegistry(bundles...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m, err := matcher.New(registry, matcher.CollectRules(bundles))
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	sink := audit.NewMemorySink()
	exec := executor.New(sink, zerolog.Nop())
	confirmer := &mockConfirmer{}
	workDir := t.TempDir()
	a, err := New(Config{
		Orchestrator:   orchestrator.New(registry, m, chain, zerolog.Nop()),
		Registry:       registry,
		Validator:      safety.NewValidator(safety.DefaultPolicy()),
		Executor:       exec,
		Processes:      proc,
		Confirmer:      confirmer,
		WorkDir:        workDir,
		Timeout:        5 * time.Second,
		MaxOutputBytes: 4096,
		NativeFallback: true,
		AnalyzeResults: true,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return &fixture{agent: a, sink: sink, executor: exec, confirmer: confirmer, workDir: workDir}
}

func (f *fixture) outcomes() []audit.Outcome {
	var outcomes []audit.Outcome
	for _, rec := range f.sink.Records() {
		outcomes = append(outcomes, rec.Outcome)
	}
	return outcomes
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	if apperrors.CodeOf(err) != apperrors.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLiteRuleMatchRunsLookup(t *testing.T) {
	f := newFixture(t)
	q := orchestrator.NewQuery("is nginx running?", "", orchestrator.Mode{LiteOnly: true})

	out, err := f.agent.Handle(context.Background(), q)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Resolution.Invocation.Tool != "processes.find" || out.Resolution.Invocation.Args["name"] != "nginx" {
		t.Fatalf("unexpected invocation %v", out.Resolution.Invocation)
	}
	if out.Resolution.Invocation.Provenance != tools.ProvenanceRule {
		t.Fatalf("expected rule provenance, got %s", out.Resolution.Invocation.Provenance)
	}
	if out.Verdict.Class != safety.Safe {
		t.Fatalf("expected SAFE, got %s", out.Verdict.Class)
	}
	if out.Result == nil || !out.Result.Succeeded() || !out.Executed() {
		t.Fatalf("expected a successful run, got %+v", out.Result)
	}
	if !strings.Contains(string(out.Result.Stdout), "nginx") {
		t.Fatalf("expected running/not-running report, got %q", out.Result.Stdout)
	}
	if got := f.outcomes(); len(got) != 1 || got[0] != audit.OutcomeExecuted {
		t.Fatalf("expected one EXECUTED record, got %v", got)
	}
	if f.sink.Records()[0].QueryID != q.ID {
		t.Fatal("audit record must carry the query ID")
	}
}

func TestDeclinedKillNeverRuns(t *testing.T) {
	f := newFixture(t)
	q := orchestrator.NewQuery("kill all python processes", "", orchestrator.Mode{LiteOnly: true})

	out, err := f.agent.Handle(context.Background(), q)
	var declined *DeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected DeclinedError, got %v", err)
	}
	if !apperrors.HasCode(err, apperrors.CodeDeclined) {
		t.Fatal("expected declined code")
	}
	if out.Resolution.Invocation.Tool != "processes.kill" || out.Resolution.Invocation.Args["name"] != "python" {
		t.Fatalf("unexpected invocation %v", out.Resolution.Invocation)
	}
	if out.Verdict.Class != safety.NeedsConfirmation {
		t.Fatalf("expected NEEDS_CONFIRMATION, got %s/%s", out.Verdict.Class, out.Verdict.Rule)
	}
	if out.Result != nil {
		t.Fatal("executor must not run after a decline")
	}
	if len(f.confirmer.Prompts) != 1 || f.confirmer.Prompts[0].Command != out.Command {
		t.Fatalf("expected one prompt for %q, got %v", out.Command, f.confirmer.Prompts)
	}
	if got := f.outcomes(); len(got) != 1 || got[0] != audit.OutcomeUserDeclined {
		t.Fatalf("expected one USER_DECLINED record, got %v", got)
	}
}

func TestConfirmedCommandRuns(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Answer = true
	target := filepath.Join(f.workDir, "scratch.txt")
	writeFile(t, target, "x")

	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("delete scratch file "+target, "", orchestrator.Mode{LiteOnly: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !out.Confirmed || !out.Result.Succeeded() {
		t.Fatalf("expected confirmed run, got %+v", out)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err %v", err)
	}
}

func TestConfirmerError(t *testing.T) {
	f := newFixture(t)
	f.confirmer.Err = errors.New("no tty")
	_, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("reboot system", "", orchestrator.Mode{LiteOnly: true}))
	if err == nil || !strings.Contains(err.Error(), "no tty") {
		t.Fatalf("expected confirmer error, got %v", err)
	}
	if len(f.sink.Records()) != 0 {
		t.Fatal("nothing ran, nothing is audited")
	}
}

func TestDryRunRebootSkipsExecution(t *testing.T) {
	f := newFixture(t)
	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("reboot system", "", orchestrator.Mode{LiteOnly: true, DryRun: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Resolution.Invocation.Tool != "system.reboot" {
		t.Fatalf("unexpected tool %s", out.Resolution.Invocation.Tool)
	}
	if out.Verdict.Class != safety.NeedsConfirmation {
		t.Fatalf("expected NEEDS_CONFIRMATION, got %s", out.Verdict.Class)
	}
	if len(f.confirmer.Prompts) != 0 {
		t.Fatal("dry run must not prompt")
	}
	if out.Result == nil || !out.Result.DryRun || out.Result.ExitCode != nil || out.Executed() {
		t.Fatalf("expected synthetic dry-run result, got %+v", out.Result)
	}
	if got := f.outcomes(); len(got) != 1 || got[0] != audit.OutcomeDryRun {
		t.Fatalf("expected one DRY_RUN record, got %v", got)
	}
}

func TestPrimaryTimeoutFallsBack(t *testing.T) {
	primary := &mockBackend{name: "ollama", timeout: 100 * time.Millisecond, GenerateFunc: func(ctx context.Context, _ backend.Request) (backend.Response, error) {
		<-ctx.Done()
		return backend.Response{}, ctx.Err()
	}}
	fallback := &mockBackend{name: "openai", timeout: time.Second, GenerateFunc: func(context.Context, backend.Request) (backend.Response, error) {
		time.Sleep(20 * time.Millisecond)
		return backend.Response{Kind: backend.KindToolCall, Tool: "system.uptime"}, nil
	}}
	f := newFixture(t, primary, fallback)

	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("how long has this box been up, roughly?", "", orchestrator.Mode{ForceBackends: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	res := out.Resolution
	if res.Source != "openai" || res.Invocation.Provenance != tools.ProvenanceBackend {
		t.Fatalf("expected fallback resolution, got %s/%s", res.Source, res.Invocation.Provenance)
	}
	if len(res.Failures) != 1 || res.Failures[0].Class != string(backend.ClassTimeout) {
		t.Fatalf("expected one primary timeout, got %v", res.Failures)
	}
	if res.Elapsed < 120*time.Millisecond || res.Elapsed > 2*time.Second {
		t.Fatalf("expected latency near timeout plus fallback, got %s", res.Elapsed)
	}
	if primary.Calls != 1 || fallback.Calls != 1 {
		t.Fatalf("expected one call each, got %d/%d", primary.Calls, fallback.Calls)
	}
	if got := f.outcomes(); len(got) != 1 {
		t.Fatalf("expected exactly one audit record, got %v", got)
	}
}

func TestBackendAnswerRunsNothing(t *testing.T) {
	answer := &mockBackend{name: "ollama", timeout: time.Second, GenerateFunc: func(context.Context, backend.Request) (backend.Response, error) {
		return backend.Response{Kind: backend.KindAnswer, Text: "Use journalctl to read logs."}, nil
	}}
	f := newFixture(t, answer)
	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("how do I read logs", "", orchestrator.Mode{ForceBackends: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Answer != "Use journalctl to read logs." || out.Result != nil || out.Command != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.sink.Records()) != 0 {
		t.Fatal("answers are not audited")
	}
}

func TestOutputCappedAtLimit(t *testing.T) {
	f := newFixture(t)
	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("flood the output", "", orchestrator.Mode{LiteOnly: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	r := out.Result
	if !r.Truncated || len(r.Stdout) != 4096 {
		t.Fatalf("expected stdout capped at 4096, got %d (truncated=%v)", len(r.Stdout), r.Truncated)
	}
	if r.ExitCode == nil || *r.ExitCode != 0 {
		t.Fatalf("expected recorded exit code 0, got %v", r.ExitCode)
	}
	recs := f.sink.Records()
	if len(recs) != 1 || !recs[0].Truncated {
		t.Fatalf("expected one truncated record, got %+v", recs)
	}
}

func TestBlockedCommands(t *testing.T) {
	cases := []struct {
		name  string
		query string
		mode  orchestrator.Mode
		rule  string
	}{
		{"pid 1", "kill process 1", orchestrator.Mode{LiteOnly: true}, safety.RuleProtectedPID1},
		{"pid 1 with override", "kill process 1", orchestrator.Mode{LiteOnly: true, AllowDestructiveOverride: true}, safety.RuleProtectedPID1},
		{"protected service", "stop the sshd service", orchestrator.Mode{LiteOnly: true}, safety.RuleProtectedProcess},
		{"blocked in dry run", "kill process 1", orchestrator.Mode{LiteOnly: true, DryRun: true}, safety.RuleProtectedPID1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery(tc.query, "", tc.mode))
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Fatalf("expected BlockedError, got %v", err)
			}
			if blocked.Verdict.Rule != tc.rule || !apperrors.HasCode(err, apperrors.CodeBlocked) {
				t.Fatalf("expected rule %s, got %s", tc.rule, blocked.Verdict.Rule)
			}
			if out.Result != nil || len(f.confirmer.Prompts) != 0 {
				t.Fatal("blocked commands are neither confirmed nor run")
			}
			if got := f.outcomes(); len(got) != 1 || got[0] != audit.OutcomeBlocked {
				t.Fatalf("expected one BLOCKED record, got %v", got)
			}
		})
	}
}

func TestOverrideTurnsProtectionIntoConfirmation(t *testing.T) {
	f := newFixture(t)
	q := orchestrator.NewQuery("stop the sshd service", "", orchestrator.Mode{LiteOnly: true, AllowDestructiveOverride: true})
	_, err := f.agent.Handle(context.Background(), q)
	var declined *DeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected the override to reach confirmation, got %v", err)
	}
	if declined.Verdict.Rule != safety.RuleProtectedOverride {
		t.Fatalf("unexpected rule %s", declined.Verdict.Rule)
	}
}

func TestNoResolutionPropagates(t *testing.T) {
	f := newFixture(t)
	_, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("compose a sonnet", "", orchestrator.Mode{LiteOnly: true}))
	if _, ok := orchestrator.AsNoResolution(err); !ok {
		t.Fatalf("expected no resolution, got %v", err)
	}
	if len(f.sink.Records()) != 0 {
		t.Fatal("unresolved queries are not audited")
	}
}

func TestNativeFallbackOnSpawnFailure(t *testing.T) {
	f := newFixture(t)
	f.executor.Shell = filepath.Join(f.workDir, "missing-shell")

	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("is sshd running?", "", orchestrator.Mode{LiteOnly: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Result.Failure != executor.FailureSpawn || out.Executed() {
		t.Fatalf("expected spawn failure, got %+v", out.Result)
	}
	if !strings.Contains(out.Native, "812") || !strings.Contains(out.Native, "sshd") {
		t.Fatalf("expected in-process process listing, got %q", out.Native)
	}
	if got := f.outcomes(); len(got) != 1 || got[0] != audit.OutcomeSpawnFailure {
		t.Fatalf("expected one SPAWN_FAILURE record, got %v", got)
	}
}

func TestConcurrentQueriesAreIsolated(t *testing.T) {
	f := newFixture(t)
	queries := []string{"is nginx running?", "show uptime", "flood the output", "who am i"}

	var wg sync.WaitGroup
	errs := make(chan error, len(queries)*4)
	for i := 0; i < 4; i++ {
		for _, text := range queries {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery(text, "", orchestrator.Mode{LiteOnly: true}))
				if err != nil {
					errs <- err
					return
				}
				if text == "flood the output" && len(out.Result.Stdout) != 4096 {
					errs <- errors.New("flood output not capped independently")
				}
			}(text)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if got := len(f.sink.Records()); got != len(queries)*4 {
		t.Fatalf("expected %d audit records, got %d", len(queries)*4, got)
	}
}

func TestRunOutputIsAnalyzed(t *testing.T) {
	analyst := &analyzingBackend{mockBackend: &mockBackend{name: "analyst", timeout: time.Second}}
	f := newFixture(t, analyst)

	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("say hello", "", orchestrator.Mode{}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !out.Executed() || string(out.Result.Stdout) != "hello\n" {
		t.Fatalf("expected the rule's command to run, got %+v", out.Result)
	}
	if out.Analysis != "the greeting printed fine" || out.AnalysisSource != "analyst" {
		t.Fatalf("unexpected analysis %q from %q", out.Analysis, out.AnalysisSource)
	}
	if analyst.Calls != 0 {
		t.Fatal("a rule match must not call Generate")
	}
	if len(analyst.Analyses) != 1 {
		t.Fatalf("expected one analysis call, got %d", len(analyst.Analyses))
	}
	req := analyst.Analyses[0]
	if req.Query != "say hello" || req.Command != "echo hello" || req.Output != "hello\n" {
		t.Fatalf("unexpected analysis request %+v", req)
	}
}

func TestAnalysisSkipped(t *testing.T) {
	cases := []struct {
		name  string
		query string
		mode  orchestrator.Mode
	}{
		{"lite", "say hello", orchestrator.Mode{LiteOnly: true}},
		{"dry run", "say hello", orchestrator.Mode{DryRun: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analyst := &analyzingBackend{mockBackend: &mockBackend{name: "analyst", timeout: time.Second}}
			f := newFixture(t, analyst)
			out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery(tc.query, "", tc.mode))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if out.Analysis != "" || len(analyst.Analyses) != 0 {
				t.Fatalf("expected no analysis, got %q after %d calls", out.Analysis, len(analyst.Analyses))
			}
		})
	}
}

func TestAnalysisFailureKeepsRawOutput(t *testing.T) {
	analyst := &analyzingBackend{
		mockBackend: &mockBackend{name: "analyst", timeout: time.Second},
		AnalyzeFunc: func(ctx context.Context, req backend.AnalysisRequest) (string, error) {
			return "", &backend.Error{Backend: "analyst", Class: backend.ClassConnection, Err: errors.New("refused")}
		},
	}
	f := newFixture(t, analyst)
	out, err := f.agent.Handle(context.Background(), orchestrator.NewQuery("say hello", "", orchestrator.Mode{}))
	if err != nil {
		t.Fatalf("a failed analysis must not fail the query: %v", err)
	}
	if out.Analysis != "" || string(out.Result.Stdout) != "hello\n" {
		t.Fatalf("expected raw output only, got analysis %q output %q", out.Analysis, out.Result.Stdout)
	}
}
