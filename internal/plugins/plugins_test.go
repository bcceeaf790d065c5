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

package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/matcher"
	"terminalbot/internal/procfs"
	"terminalbot/internal/safety"
	"terminalbot/internal/tools"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "1", "comm"), "systemd\n")
	writeFile(t, filepath.Join(root, "1", "cmdline"), "/sbin/init\x00")
	writeFile(t, filepath.Join(root, "812", "comm"), "sshd\n")
	writeFile(t, filepath.Join(root, "812", "cmdline"), "/usr/sbin/sshd\x00-D\x00")
	writeFile(t, filepath.Join(root, "4242", "comm"), "python3\n")
	writeFile(t, filepath.Join(root, "4242", "cmdline"), "/usr/bin/python3\x00app.py\x00")
	writeFile(t, filepath.Join(root, "uptime"), "93784.52 1000.00\n")
	writeFile(t, filepath.Join(root, "meminfo"), "MemTotal:       16314368 kB\nMemAvailable:    8157184 kB\n")
	writeFile(t, filepath.Join(root, "sys", "kernel", "osrelease"), "6.8.0-test\n")
	return root
}

func newTestSetup(t *testing.T) (*tools.Registry, *matcher.Matcher, Options) {
	t.Helper()
	osRelease := filepath.Join(t.TempDir(), "os-release")
	writeFile(t, osRelease, "NAME=\"Test Linux\"\nVERSION_ID=\"1.0\"\n")
	opts := Options{Proc: procfs.New(fakeProc(t)), OSRelease: osRelease}

	plugins := Builtin(opts)
	registry, err := tools.BuildRegistry(plugins...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m, err := matcher.New(registry, matcher.CollectRules(plugins))
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	return registry, m, opts
}

func TestRulesRouteQueries(t *testing.T) {
	_, m, _ := newTestSetup(t)

	cases := []struct {
		query string
		tool  string
		args  map[string]string
	}{
		{"is nginx running?", "processes.find", map[string]string{"name": "nginx"}},
		{"list all processes", "processes.list", nil},
		{"find python processes", "processes.find", map[string]string{"name": "python"}},
		{"find processes named redis", "processes.find", map[string]string{"name": "redis"}},
		{"show top cpu processes", "processes.top", map[string]string{"sort_by": "cpu"}},
		{"top memory processes", "processes.top", map[string]string{"sort_by": "memory"}},
		{"top processes", "processes.top", nil},
		{"details about pid 4242", "processes.details", map[string]string{"pid": "4242"}},
		{"kill process 4242", "processes.kill_pid", map[string]string{"pid": "4242"}},
		{"kill all python processes", "processes.kill", map[string]string{"name": "python"}},
		{"is apache running?", "services.status", map[string]string{"service": "httpd"}},
		{"is the nginx service running?", "services.status", map[string]string{"service": "nginx"}},
		{"check service postgresql", "services.status", map[string]string{"service": "postgresql"}},
		{"list failed services", "services.failed", nil},
		{"list running services", "services.list", nil},
		{"stop the nginx service", "services.stop", map[string]string{"service": "nginx"}},
		{"show logs for nginx", "services.logs", map[string]string{"service": "nginx"}},
		{"show system info", "system.info", nil},
		{"show uptime", "system.uptime", nil},
		{"check kernel version", "system.kernel", nil},
		{"show os version", "system.os", nil},
		{"check disk space", "system.disk", nil},
		{"show memory usage", "system.memory", nil},
		{"show system logs", "system.logs", nil},
		{"reboot system", "system.reboot", nil},
		{"who am i", "system.whoami", nil},
		{"list logged in users", "system.who", nil},
		{"show environment variables", "system.env", nil},
		{"show ip address", "network.ip", nil},
		{"show network interfaces", "network.interfaces", nil},
		{"check internet connection", "network.ping", map[string]string{"host": "8.8.8.8"}},
		{"ping example.com", "network.ping", map[string]string{"host": "example.com"}},
		{"list files in /var/log", "files.list", map[string]string{"path": "/var/log"}},
		{"list current directory", "files.list", nil},
		{"find file config.yaml", "files.find", map[string]string{"pattern": "config.yaml"}},
		{"what is taking up disk space?", "files.usage", nil},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			inv, ok := m.Match(tc.query)
			if !ok {
				t.Fatalf("%q: expected a match", tc.query)
			}
			if inv.Tool != tc.tool {
				t.Fatalf("%q: expected %s, got %s (rule %s)", tc.query, tc.tool, inv.Tool, inv.Source)
			}
			if len(inv.Args) != len(tc.args) {
				t.Fatalf("%q: expected args %v, got %v", tc.query, tc.args, inv.Args)
			}
			for key, want := range tc.args {
				if inv.Args[key] != want {
					t.Fatalf("%q: expected %s=%q, got %q", tc.query, key, want, inv.Args[key])
				}
			}
		})
	}
}

func TestUnmatchedQueries(t *testing.T) {
	_, m, _ := newTestSetup(t)
	for _, query := range []string{"why is my laptop hot", "", "tell me a joke"} {
		if inv, ok := m.Match(query); ok {
			t.Fatalf("%q: unexpected match %v", query, inv)
		}
	}
}

func TestMaterializedCommandsAreClassified(t *testing.T) {
	registry, _, _ := newTestSetup(t)
	snapshot := map[int]string{1: "systemd", 812: "sshd", 4242: "python3"}
	policy := safety.DefaultPolicy()

	cases := []struct {
		tool    string
		args    map[string]string
		command string
		class   safety.Class
	}{
		{"processes.find", map[string]string{"name": "nginx"}, "pgrep -a -i -- nginx || echo 'not running: nginx'", safety.Safe},
		{"processes.top", map[string]string{"sort_by": "memory", "limit": "5"}, "ps aux --sort=-%mem | head -n 6", safety.Safe},
		{"processes.top", map[string]string{}, "ps aux --sort=-%cpu | head -n 11", safety.Safe},
		{"processes.kill", map[string]string{"name": "python"}, "pkill -- python", safety.NeedsConfirmation},
		{"processes.kill", map[string]string{"name": "sshd", "signal": "SIGKILL"}, "pkill -KILL -- sshd", safety.Blocked},
		{"processes.kill_pid", map[string]string{"pid": "1"}, "kill 1", safety.Blocked},
		{"processes.kill_pid", map[string]string{"pid": "4242", "signal": "9"}, "kill -9 4242", safety.NeedsConfirmation},
		{"services.status", map[string]string{"service": "nginx"}, "systemctl status --no-pager -- nginx", safety.Safe},
		{"services.stop", map[string]string{"service": "nginx"}, "systemctl stop -- nginx", safety.NeedsConfirmation},
		{"services.stop", map[string]string{"service": "sshd.service"}, "systemctl stop -- sshd.service", safety.Blocked},
		{"services.logs", map[string]string{"service": "nginx", "lines": "20"}, "journalctl -u nginx -n 20 --no-pager", safety.Safe},
		{"system.reboot", map[string]string{}, "reboot", safety.NeedsConfirmation},
		{"network.ping", map[string]string{"host": "example.com"}, "ping -c 4 example.com", safety.Safe},
		{"files.list", map[string]string{"path": "/var/log files", "hidden": "true"}, "ls -lah -- '/var/log files'", safety.Safe},
		{"files.find", map[string]string{"pattern": "config"}, "find . -type f -name '*config*' 2>/dev/null | head -n 100", safety.Safe},
		{"files.usage", map[string]string{"path": "/srv"}, "cd /srv && du -sh -- * 2>/dev/null | sort -hr | head -n 10", safety.Safe},
	}
	for _, tc := range cases {
		command, err := registry.Materialize(tools.Invocation{Tool: tc.tool, Args: tc.args})
		if err != nil {
			t.Fatalf("%s: materialize: %v", tc.tool, err)
		}
		if command != tc.command {
			t.Fatalf("%s: expected %q, got %q", tc.tool, tc.command, command)
		}
		verdict := safety.Validate(command, safety.Context{Processes: snapshot}, policy)
		if verdict.Class != tc.class {
			t.Fatalf("%q: expected %s, got %s (%s)", command, tc.class, verdict.Class, verdict.Reason)
		}
	}
}

func TestArgumentValidation(t *testing.T) {
	registry, _, _ := newTestSetup(t)
	cases := []struct {
		tool string
		args map[string]string
	}{
		{"processes.find", map[string]string{"name": "nginx; rm -rf /"}},
		{"processes.find", map[string]string{}},
		{"processes.top", map[string]string{"sort_by": "disk"}},
		{"processes.top", map[string]string{"limit": "1000"}},
		{"processes.kill_pid", map[string]string{"pid": "abc"}},
		{"processes.kill", map[string]string{"name": "python", "signal": "KILL -9 1"}},
		{"services.stop", map[string]string{"service": "-x"}},
		{"network.ping", map[string]string{"host": "-f"}},
		{"network.ping", map[string]string{"host": "example.com", "count": "500"}},
		{"files.find", map[string]string{"pattern": "../etc/passwd"}},
	}
	for _, tc := range cases {
		_, err := registry.Materialize(tools.Invocation{Tool: tc.tool, Args: tc.args})
		if !apperrors.HasCode(err, apperrors.CodeInvalidArguments) {
			t.Fatalf("%s %v: expected invalid arguments, got %v", tc.tool, tc.args, err)
		}
	}
}

func TestSchemaFromStruct(t *testing.T) {
	registry, _, _ := newTestSetup(t)
	tool, ok := registry.Lookup("processes.kill")
	if !ok {
		t.Fatal("processes.kill not registered")
	}
	params := tool.Parameters()
	if !params["name"].Required || params["signal"].Required {
		t.Fatalf("unexpected kill params %+v", params)
	}
	top, _ := registry.Lookup("processes.top")
	if top.Parameters()["limit"].Type != tools.ParamInteger {
		t.Fatalf("expected integer limit, got %+v", top.Parameters()["limit"])
	}
}

func TestInProcessHandlers(t *testing.T) {
	registry, _, _ := newTestSetup(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "report.txt"), "data")
	writeFile(t, filepath.Join(dir, ".hidden"), "secret")

	cases := []struct {
		tool     string
		args     map[string]string
		contains []string
		excludes []string
	}{
		{"processes.find", map[string]string{"name": "ssh"}, []string{"812", "sshd"}, []string{"python3"}},
		{"processes.find", map[string]string{"name": "nginx"}, []string{"not running: nginx"}, nil},
		{"processes.list", nil, []string{"systemd", "sshd", "python3"}, nil},
		{"processes.details", map[string]string{"pid": "4242"}, []string{"Name: python3", "/usr/bin/python3 app.py"}, nil},
		{"system.uptime", nil, []string{"up 1d 02h03m04s"}, nil},
		{"system.kernel", nil, []string{"6.8.0-test"}, nil},
		{"system.info", nil, []string{"Kernel: 6.8.0-test", "Uptime: up 1d"}, nil},
		{"system.memory", nil, []string{"MemTotal:", "15.6 GiB", "MemAvailable:"}, nil},
		{"system.os", nil, []string{`NAME="Test Linux"`}, nil},
		{"files.list", map[string]string{"path": dir}, []string{"report.txt"}, []string{".hidden"}},
		{"files.list", map[string]string{"path": dir, "hidden": "T"}, []string{"report.txt", ".hidden"}, nil},
		{"files.list", map[string]string{"path": dir, "hidden": "false"}, []string{"report.txt"}, []string{".hidden"}},
	}
	for _, tc := range cases {
		args := tc.args
		if args == nil {
			args = map[string]string{}
		}
		out, err := registry.Invoke(ctx, tc.tool, args)
		if err != nil {
			t.Fatalf("%s: %v", tc.tool, err)
		}
		for _, want := range tc.contains {
			if !strings.Contains(out, want) {
				t.Fatalf("%s: expected %q in output:\n%s", tc.tool, want, out)
			}
		}
		for _, unwanted := range tc.excludes {
			if strings.Contains(out, unwanted) {
				t.Fatalf("%s: unexpected %q in output:\n%s", tc.tool, unwanted, out)
			}
		}
	}

	if _, err := registry.Invoke(ctx, "files.list", map[string]string{"path": dir, "hidden": "yes"}); err == nil {
		t.Fatal("expected a non-boolean hidden flag to be rejected")
	}
	if !isTrue(" t ") || isTrue("yes") || isTrue("0") {
		t.Fatal("isTrue disagrees with boolean argument validation")
	}

	if _, err := registry.Invoke(ctx, "system.disk", map[string]string{}); !errors.Is(err, tools.ErrNoHandler) {
		t.Fatalf("expected no handler error, got %v", err)
	}
	if _, err := registry.Invoke(ctx, "files.list", map[string]string{"path": filepath.Join(dir, "report.txt")}); err == nil {
		t.Fatal("expected error listing a regular file")
	}
}

func TestEveryRuleHasExample(t *testing.T) {
	_, m, _ := newTestSetup(t)
	for _, rule := range m.Rules() {
		if rule.Example == "" {
			t.Fatalf("rule %s has no example", rule.ID)
		}
		inv, ok := m.Match(rule.Example)
		if !ok {
			t.Fatalf("rule %s: example %q does not match", rule.ID, rule.Example)
		}
		if inv.Tool != rule.Tool {
			t.Fatalf("rule %s: example %q resolves to %s, expected %s", rule.ID, rule.Example, inv.Tool, rule.Tool)
		}
	}
}
