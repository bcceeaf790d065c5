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

// Package safety classifies materialized shell commands against a policy.
// Classification is pure: no I/O, no clock, no randomness. Process state is
// passed in by the caller as a snapshot.
package safety

import (
	"fmt"
	"sort"
	"strings"
)

// Class is the outcome of a classification.
type Class string

const (
	Safe              Class = "SAFE"
	NeedsConfirmation Class = "NEEDS_CONFIRMATION"
	Blocked           Class = "BLOCKED"
)

// Rule identifiers carried by verdicts.
const (
	RuleProtectedPID1        = "protected-pid-1"
	RuleUnresolvedTarget     = "unresolved-target"
	RuleProtectedPID         = "protected-pid"
	RuleProtectedProcess     = "protected-process"
	RuleProtectedOverride    = "protected-override"
	RuleDestructiveVerb      = "destructive-verb"
	RuleConfirmationDisabled = "confirmation-disabled"
	RuleNoDestructiveVerb    = "no-destructive-verb"
	RuleUnparsedCommand      = "unparsed-command"
)

const maxNestingDepth = 4

// Entity is a protected process a command would affect. PID is zero when
// the target was given by name only.
type Entity struct {
	PID  int    `json:"pid,omitempty"`
	Name string `json:"name,omitempty"`
}

func (e Entity) String() string {
	switch {
	case e.PID > 0 && e.Name != "":
		return fmt.Sprintf("%s (PID %d)", e.Name, e.PID)
	case e.PID > 0:
		return fmt.Sprintf("PID %d", e.PID)
	default:
		return e.Name
	}
}

// Context carries per-invocation inputs.
type Context struct {
	// Processes maps live PIDs to process names.
	Processes map[int]string
	// Override lifts protected-entity blocks for this invocation only.
	// It never lifts protection of PID 1.
	Override bool
}

// Verdict is the classification of one command.
type Verdict struct {
	Class     Class    `json:"class"`
	Rule      string   `json:"rule"`
	Reason    string   `json:"reason"`
	Verb      string   `json:"verb,omitempty"`
	Protected []Entity `json:"protected,omitempty"`
}

// Validator classifies commands against a fixed policy.
type Validator struct {
	policy Policy
}

// NewValidator returns a validator bound to policy.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Policy returns the validator's policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate classifies command under the validator's policy.
func (v *Validator) Validate(command string, ctx Context) Verdict {
	return Validate(command, ctx, v.policy)
}

type analysis struct {
	verbs      []string
	protected  []Entity
	pid1       bool
	unparsed   bool
	unresolved []string
}

// Validate classifies command. Identical inputs always yield identical
// verdicts.
func Validate(command string, ctx Context, policy Policy) Verdict {
	var a analysis
	analyze(command, ctx, policy, 0, &a)
	protected := normalizeEntities(a.protected)
	verb := ""
	if len(a.verbs) > 0 {
		verb = a.verbs[0]
	}

	if a.pid1 {
		subject := verb
		if subject == "" {
			subject = "command"
		}
		return Verdict{
			Class:     Blocked,
			Rule:      RuleProtectedPID1,
			Reason:    fmt.Sprintf("%s would affect PID 1, which can never be targeted", subject),
			Verb:      verb,
			Protected: protected,
		}
	}

	// a substituted signal target may expand to PID 1, so override does
	// not apply
	if len(a.unresolved) > 0 {
		subject := verb
		if subject == "" {
			subject = "signal command"
		}
		return Verdict{
			Class:     Blocked,
			Rule:      RuleUnresolvedTarget,
			Reason:    fmt.Sprintf("%s target %s is only known after shell expansion", subject, strings.Join(a.unresolved, ", ")),
			Verb:      verb,
			Protected: protected,
		}
	}

	if len(protected) > 0 && !ctx.Override {
		rule := RuleProtectedProcess
		for _, entity := range protected {
			if entity.PID > 0 && policy.isProtectedPID(entity.PID) {
				rule = RuleProtectedPID
				break
			}
		}
		return Verdict{
			Class:     Blocked,
			Rule:      rule,
			Reason:    fmt.Sprintf("%s targets protected %s", verb, describeEntities(protected)),
			Verb:      verb,
			Protected: protected,
		}
	}

	if a.unparsed {
		return Verdict{
			Class:  NeedsConfirmation,
			Rule:   RuleUnparsedCommand,
			Reason: "command could not be parsed for safety analysis",
			Verb:   verb,
		}
	}

	if verb == "" {
		return Verdict{Class: Safe, Rule: RuleNoDestructiveVerb, Reason: "no destructive verb found"}
	}

	if !policy.RequireConfirmation() {
		return Verdict{
			Class:     Safe,
			Rule:      RuleConfirmationDisabled,
			Reason:    fmt.Sprintf("%s is destructive but confirmation is disabled by policy", verb),
			Verb:      verb,
			Protected: protected,
		}
	}

	if len(protected) > 0 {
		return Verdict{
			Class:     NeedsConfirmation,
			Rule:      RuleProtectedOverride,
			Reason:    fmt.Sprintf("%s targets protected %s; override requested", verb, describeEntities(protected)),
			Verb:      verb,
			Protected: protected,
		}
	}

	return Verdict{
		Class:  NeedsConfirmation,
		Rule:   RuleDestructiveVerb,
		Reason: fmt.Sprintf("%s is a destructive command", verb),
		Verb:   verb,
	}
}

func analyze(command string, ctx Context, policy Policy, depth int, a *analysis) {
	if depth > maxNestingDepth {
		a.unparsed = true
		return
	}
	parsed, err := splitCommand(command)
	if err != nil {
		a.unparsed = true
	}
	for _, nested := range parsed.nested {
		analyze(nested, ctx, policy, depth+1, a)
	}
	for _, segment := range parsed.segments {
		analyzeSegment(segment, ctx, policy, depth, a)
	}
}

func analyzeSegment(words []string, ctx Context, policy Policy, depth int, a *analysis) {
	words, script := stripPrefixes(words)
	if len(words) == 0 {
		return
	}
	if script {
		analyze(strings.Join(words, " "), ctx, policy, depth+1, a)
		return
	}
	name := commandName(words[0])
	if isSignalCommand(name) && sendsNoSignal(name, words[1:]) {
		return
	}

	if isShell(name) {
		if body, ok := shellScript(words[1:]); ok {
			analyze(body, ctx, policy, depth+1, a)
			return
		}
	}
	if name == "xargs" {
		analyzeSegment(stripXargs(words[1:]), ctx, policy, depth, a)
		return
	}

	verb, rest, ok := matchVerb(policy, name, words[1:])
	switch {
	case ok:
		a.verbs = append(a.verbs, verb)
	case isSignalCommand(name):
		// targets are checked even when the policy lists no verb for them
		rest = words[1:]
	default:
		return
	}

	switch {
	case name == "kill":
		pids, names, unresolved := killTargets(rest)
		a.unresolved = append(a.unresolved, unresolved...)
		for _, pid := range pids {
			checkPID(pid, ctx, policy, a)
		}
		for _, target := range names {
			checkName(target, false, ctx, policy, a)
		}
	case name == "pkill":
		for _, target := range nameTargets(rest) {
			checkName(target, true, ctx, policy, a)
		}
	case name == "killall":
		for _, target := range nameTargets(rest) {
			checkName(target, false, ctx, policy, a)
		}
	case name == "systemctl":
		for _, unit := range nameTargets(rest) {
			unit = strings.TrimSuffix(unit, ".service")
			if protected, ok := policy.protectedName(unit); ok {
				a.protected = append(a.protected, Entity{Name: protected})
			}
		}
	}
}

func checkPID(pid int, ctx Context, policy Policy, a *analysis) {
	name := ctx.Processes[pid]
	if pid == InitPID {
		a.pid1 = true
		a.protected = append(a.protected, Entity{PID: pid, Name: name})
		return
	}
	if policy.isProtectedPID(pid) {
		a.protected = append(a.protected, Entity{PID: pid, Name: name})
		return
	}
	if _, ok := policy.protectedName(name); ok {
		a.protected = append(a.protected, Entity{PID: pid, Name: name})
	}
}

// checkName flags a name target that is protected itself or that matches
// a protected live process. pattern selects pkill-style partial matching.
func checkName(target string, pattern bool, ctx Context, policy Policy, a *analysis) {
	if protected, ok := policy.protectedName(target); ok {
		a.protected = append(a.protected, Entity{Name: protected})
	}
	if pattern {
		for _, protected := range policy.protectedNames {
			if patternMatches(target, protected) {
				a.protected = append(a.protected, Entity{Name: protected})
			}
		}
	}

	pids := make([]int, 0, len(ctx.Processes))
	for pid := range ctx.Processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		name := ctx.Processes[pid]
		var hit bool
		if pattern {
			hit = patternMatches(target, name)
		} else {
			hit = strings.EqualFold(target, name)
		}
		if !hit {
			continue
		}
		checkPID(pid, ctx, policy, a)
	}
}

func patternMatches(pattern, name string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}

func matchVerb(policy Policy, name string, args []string) (string, []string, bool) {
	for _, fields := range policy.dangerousVerbs {
		if name != fields[0] && !strings.HasPrefix(name, fields[0]+".") {
			continue
		}
		rest := args
		matched := true
		for _, want := range fields[1:] {
			idx := firstOperand(rest)
			if idx < 0 || strings.ToLower(rest[idx]) != want {
				matched = false
				break
			}
			rest = rest[idx+1:]
		}
		if matched {
			return strings.Join(fields, " "), rest, true
		}
	}
	return "", nil, false
}

func firstOperand(args []string) int {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return i
		}
	}
	return -1
}

func describeEntities(entities []Entity) string {
	parts := make([]string, len(entities))
	for i, entity := range entities {
		parts[i] = entity.String()
	}
	return strings.Join(parts, ", ")
}

func normalizeEntities(entities []Entity) []Entity {
	if len(entities) == 0 {
		return nil
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].PID != entities[j].PID {
			return entities[i].PID < entities[j].PID
		}
		return entities[i].Name < entities[j].Name
	})
	out := entities[:0]
	for i, entity := range entities {
		if i > 0 && entity == out[len(out)-1] {
			continue
		}
		out = append(out, entity)
	}
	return out
}
