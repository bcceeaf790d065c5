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

	"terminalbot/internal/safety"
	"terminalbot/internal/tools"
)

// Prompt is what the user is asked to approve.
type Prompt struct {
	QueryID    string
	Command    string
	Invocation tools.Invocation
	Verdict    safety.Verdict
}

// Confirmer asks the user whether a destructive command may run.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

// DenyAll declines every prompt. It is the default when no terminal is
// available to ask.
var DenyAll = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return false, nil })
