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

package safety

import (
	"sort"
	"strings"
)

// InitPID is protected regardless of configuration.
const InitPID = 1

// Defaults applied when configuration leaves a list unset.
var (
	DefaultProtectedNames = []string{"systemd", "init", "sshd", "NetworkManager", "dbus-daemon"}
	DefaultProtectedPIDs  = []int{InitPID}
	DefaultDangerousVerbs = []string{
		"rm", "rmdir", "shred", "dd", "mkfs", "wipefs",
		"kill", "killall", "pkill",
		"systemctl stop", "systemctl disable", "systemctl mask", "systemctl kill",
		"reboot", "shutdown", "poweroff", "halt",
	}
)

// Policy is the immutable rule set the validator classifies against.
// Build it with NewPolicy; the zero value protects only PID 1.
type Policy struct {
	protectedNames      []string
	protectedPIDs       map[int]bool
	dangerousVerbs      [][]string
	requireConfirmation bool
}

// NewPolicy normalizes the given lists into a Policy. PID 1 is always
// protected. Names and verbs are compared case-insensitively.
func NewPolicy(protectedNames []string, protectedPIDs []int, dangerousVerbs []string, requireConfirmation bool) Policy {
	p := Policy{
		protectedPIDs:       map[int]bool{InitPID: true},
		requireConfirmation: requireConfirmation,
	}
	seen := make(map[string]bool)
	for _, name := range protectedNames {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p.protectedNames = append(p.protectedNames, name)
	}
	sort.Strings(p.protectedNames)

	for _, pid := range protectedPIDs {
		if pid > 0 {
			p.protectedPIDs[pid] = true
		}
	}

	seenVerb := make(map[string]bool)
	for _, verb := range dangerousVerbs {
		fields := strings.Fields(strings.ToLower(verb))
		if len(fields) == 0 {
			continue
		}
		key := strings.Join(fields, " ")
		if seenVerb[key] {
			continue
		}
		seenVerb[key] = true
		p.dangerousVerbs = append(p.dangerousVerbs, fields)
	}
	// Longer verbs first so "systemctl stop" wins over a bare "systemctl".
	sort.SliceStable(p.dangerousVerbs, func(i, j int) bool {
		return len(p.dangerousVerbs[i]) > len(p.dangerousVerbs[j])
	})
	return p
}

// DefaultPolicy returns the built-in policy with confirmation required.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultProtectedNames, DefaultProtectedPIDs, DefaultDangerousVerbs, true)
}

// RequireConfirmation reports whether destructive commands need approval.
func (p Policy) RequireConfirmation() bool {
	return p.requireConfirmation
}

// ProtectedNames returns a copy of the protected process names.
func (p Policy) ProtectedNames() []string {
	return append([]string(nil), p.protectedNames...)
}

// ProtectedPIDs returns the protected PIDs in ascending order.
func (p Policy) ProtectedPIDs() []int {
	pids := []int{InitPID}
	for pid := range p.protectedPIDs {
		if pid != InitPID {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids
}

// DangerousVerbs returns the configured verbs as space-joined strings.
func (p Policy) DangerousVerbs() []string {
	verbs := make([]string, len(p.dangerousVerbs))
	for i, fields := range p.dangerousVerbs {
		verbs[i] = strings.Join(fields, " ")
	}
	return verbs
}

func (p Policy) isProtectedPID(pid int) bool {
	return pid == InitPID || p.protectedPIDs[pid]
}

// protectedName returns the protected entry matching a process name.
// "sshd" matches "sshd", "sshd@1" and "sshd-session"; "init" does not
// match "cloud-init".
func (p Policy) protectedName(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	for _, protected := range p.protectedNames {
		if name == protected {
			return protected, true
		}
		if strings.HasPrefix(name, protected) {
			switch name[len(protected)] {
			case '-', '@', '.', ':':
				return protected, true
			}
		}
	}
	return "", false
}
