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
	"fmt"
	"strings"

	apperrors "terminalbot/internal/errors"
)

// Failure classes raised by the orchestrator itself, next to the
// backend.Class values.
const (
	ClassUnknownTool      = "UNKNOWN_TOOL"
	ClassInvalidArguments = "INVALID_ARGUMENTS"
)

// Failure records why one backend did not resolve the query.
type Failure struct {
	Backend string
	Class   string
	Err     error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s: %v", f.Backend, f.Class, f.Err)
}

// NoResolutionError is returned when neither the rules nor any backend
// produced a usable result.
type NoResolutionError struct {
	Query        string
	Lite         bool
	Capabilities []string
	Suggestions  []string
	Failures     []Failure
}

func (e *NoResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not resolve %q", e.Query)
	switch {
	case e.Lite:
		b.WriteString(": no rule matched in lite mode")
	case len(e.Failures) == 0:
		b.WriteString(": no rule matched and no backend is configured")
	default:
		parts := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			parts[i] = f.String()
		}
		fmt.Fprintf(&b, ": every backend failed (%s)", strings.Join(parts, "; "))
	}
	return b.String()
}

func (e *NoResolutionError) Unwrap() error {
	return apperrors.New(apperrors.CodeNoResolution, "no resolution")
}

// Hint renders suggestions and capabilities for the user.
func (e *NoResolutionError) Hint() string {
	var b strings.Builder
	if len(e.Suggestions) > 0 {
		b.WriteString("Did you mean:\n")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&b, "  %s\n", s)
		}
	}
	if len(e.Capabilities) > 0 {
		b.WriteString("I can handle requests like:\n")
		for _, c := range e.Capabilities {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String()
}
