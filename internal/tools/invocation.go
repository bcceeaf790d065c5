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

package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Provenance records which resolver produced an invocation.
type Provenance string

const (
	ProvenanceRule    Provenance = "rule-matched"
	ProvenanceBackend Provenance = "backend-resolved"
)

// Invocation is a resolved tool name with bound arguments.
type Invocation struct {
	Tool       string
	Args       map[string]string
	Provenance Provenance
	// Source is the rule ID or backend name that produced the invocation.
	Source string
}

// String renders the invocation as name(key=value, ...) with sorted keys.
func (inv Invocation) String() string {
	keys := make([]string, 0, len(inv.Args))
	for key := range inv.Args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", key, inv.Args[key]))
	}
	return fmt.Sprintf("%s(%s)", inv.Tool, strings.Join(parts, ", "))
}

// Equal reports whether two invocations name the same tool with the same arguments.
func (inv Invocation) Equal(other Invocation) bool {
	if inv.Tool != other.Tool || len(inv.Args) != len(other.Args) {
		return false
	}
	for key, value := range inv.Args {
		if otherValue, ok := other.Args[key]; !ok || otherValue != value {
			return false
		}
	}
	return true
}
