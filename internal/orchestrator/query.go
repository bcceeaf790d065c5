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
	"strings"

	"github.com/google/uuid"
)

// Mode holds the per-query switches.
type Mode struct {
	// LiteOnly restricts resolution to the rule matcher.
	LiteOnly bool
	// ForceBackends skips the rule matcher. LiteOnly wins when both are set.
	ForceBackends bool
	DryRun        bool
	// AllowDestructiveOverride lifts protected-entity blocks other than PID 1.
	AllowDestructiveOverride bool
}

// Query is one troubleshooting request. It is a value: copies are
// independent and nothing mutates it after NewQuery.
type Query struct {
	ID      string
	Text    string
	WorkDir string
	Mode    Mode
}

// NewQuery trims text and assigns a fresh ID.
func NewQuery(text, workDir string, mode Mode) Query {
	return Query{
		ID:      uuid.NewString(),
		Text:    strings.TrimSpace(text),
		WorkDir: workDir,
		Mode:    mode,
	}
}
