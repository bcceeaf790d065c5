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

package matcher

import (
	"fmt"
	"sort"
	"strings"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "is": true,
	"my": true, "me": true, "show": true, "what": true, "all": true,
	"any": true, "can": true, "you": true, "how": true, "please": true,
}

// Capabilities lists one "example → tool" line per rule, in match order.
func (m *Matcher) Capabilities() []string {
	caps := make([]string, 0, len(m.rules))
	seen := make(map[string]bool)
	for _, rule := range m.rules {
		example := rule.Example
		if example == "" {
			example = rule.ID
		}
		line := fmt.Sprintf("%s → %s", example, rule.Tool)
		if seen[line] {
			continue
		}
		seen[line] = true
		caps = append(caps, line)
	}
	return caps
}

// Suggestions returns up to limit rule examples sharing keywords with text,
// best overlap first.
func (m *Matcher) Suggestions(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	keywords := keywordSet(text)
	if len(keywords) == 0 {
		return nil
	}

	type scored struct {
		example string
		score   int
		index   int
	}
	var candidates []scored
	seen := make(map[string]bool)
	for i, rule := range m.rules {
		if rule.Example == "" || seen[rule.Example] {
			continue
		}
		haystack := strings.ToLower(rule.Example + " " + strings.ReplaceAll(rule.Tool, ".", " "))
		score := 0
		for kw := range keywords {
			if strings.Contains(haystack, kw) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		seen[rule.Example] = true
		candidates = append(candidates, scored{example: rule.Example, score: score, index: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.example
	}
	return out
}

func keywordSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(words))
	for _, word := range words {
		if len(word) < 2 || stopWords[word] {
			continue
		}
		set[word] = true
	}
	return set
}
