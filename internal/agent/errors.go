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
	"fmt"

	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/safety"
)

// BlockedError is returned when the validator refuses a command.
type BlockedError struct {
	Command string
	Verdict safety.Verdict
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("refusing to run %q: %s [%s]", e.Command, e.Verdict.Reason, e.Verdict.Rule)
}

func (e *BlockedError) Unwrap() error {
	return apperrors.New(apperrors.CodeBlocked, "command blocked")
}

// DeclinedError is returned when the user does not approve a command.
type DeclinedError struct {
	Command string
	Verdict safety.Verdict
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("not running %q: confirmation declined", e.Command)
}

func (e *DeclinedError) Unwrap() error {
	return apperrors.New(apperrors.CodeDeclined, "confirmation declined")
}
