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

// Package matcher resolves queries to tool invocations with regular
// expressions, without touching the network or the host.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/tools"
)

// Extractor turns a matched query into tool arguments. groups holds the
// non-empty named capture groups of the rule's pattern.
type Extractor func(query string, groups map[string]string) map[string]string

// Rule maps a query pattern to a tool.
type Rule struct {
	ID       string
	Pattern  string
	Priority int
	Tool     string
	// Args are fixed arguments; captured groups override them.
	Args    map[string]string
	Example string
	Extract Extractor
}

// RuleSource is implemented by plugins that contribute matcher rules.
type RuleSource interface {
	Rules() []Rule
}

type compiledRule struct {
	Rule
	re    *regexp.Regexp
	order int
}

// Matcher holds an ordered, immutable rule set.
//
// Rules are tried by descending priority. Rules with equal priority keep
// their registration order: plugin order first, then the order a plugin
// lists its rules in.
type Matcher struct {
	rules []compiledRule
}

// CollectRules gathers rules from every plugin that provides them, in
// plugin registration order.
func CollectRules(plugins []tools.Plugin) []Rule {
	var rules []Rule
	for _, plugin := range plugins {
		source, ok := plugin.(RuleSource)
		if !ok {
			continue
		}
		rules = append(rules, source.Rules()...)
	}
	return rules
}

// New compiles rules against the registry. A malformed pattern, a
// duplicate rule ID or a rule targeting an unregistered tool is an error.
func New(registry *tools.Registry, rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s#%d", rule.Tool, i)
		}
		if seen[rule.ID] {
			return nil, apperrors.Newf(apperrors.CodeInvalidPattern, "duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true

		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidPattern, fmt.Sprintf("rule %s", rule.ID), err)
		}
		if registry != nil {
			if _, ok := registry.Lookup(rule.Tool); !ok {
				return nil, apperrors.Wrap(apperrors.CodeNotFound, fmt.Sprintf("rule %s", rule.ID), tools.NewNotFoundError(rule.Tool))
			}
		}
		compiled = append(compiled, compiledRule{Rule: rule, re: re, order: i})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return &Matcher{rules: compiled}, nil
}

// Match returns the invocation of the first rule matching text. A miss is
// reported with ok == false.
func (m *Matcher) Match(text string) (tools.Invocation, bool) {
	query := strings.TrimSpace(text)
	if query == "" {
		return tools.Invocation{}, false
	}
	for _, rule := range m.rules {
		sub := rule.re.FindStringSubmatch(query)
		if sub == nil {
			continue
		}
		groups := namedGroups(rule.re, sub)
		args := rule.arguments(query, groups)
		return tools.Invocation{
			Tool:       rule.Tool,
			Args:       args,
			Provenance: tools.ProvenanceRule,
			Source:     rule.ID,
		}, true
	}
	return tools.Invocation{}, false
}

func (r compiledRule) arguments(query string, groups map[string]string) map[string]string {
	args := make(map[string]string, len(r.Args)+len(groups))
	for key, value := range r.Args {
		args[key] = value
	}
	if r.Extract != nil {
		for key, value := range r.Extract(query, groups) {
			args[key] = value
		}
		return args
	}
	for key, value := range groups {
		args[key] = value
	}
	return args
}

func namedGroups(re *regexp.Regexp, sub []string) map[string]string {
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" || i >= len(sub) {
			continue
		}
		if value := strings.TrimSpace(sub[i]); value != "" {
			groups[name] = value
		}
	}
	return groups
}

// Rules returns the rule set in match order.
func (m *Matcher) Rules() []Rule {
	rules := make([]Rule, len(m.rules))
	for i, rule := range m.rules {
		rules[i] = rule.Rule
	}
	return rules
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}
