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
	"errors"
	"fmt"

	apperrors "terminalbot/internal/errors"
)

// Common tool errors
var (
	// ErrToolNotFound indicates the requested tool doesn't exist in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments indicates tool arguments are invalid or malformed.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateTool indicates two plugins contributed the same tool name.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrRegistrySealed indicates a registration attempt after startup.
	ErrRegistrySealed = errors.New("registry is read-only")

	// ErrNoHandler indicates a tool has no in-process handler.
	ErrNoHandler = errors.New("tool has no in-process handler")
)

// NewNotFoundError reports an unregistered tool name.
func NewNotFoundError(name string) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeNotFound, fmt.Sprintf("tool %q is not registered", name), ErrToolNotFound)
}

// NewDuplicateToolError reports a name collision during registry construction.
func NewDuplicateToolError(name string) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeDuplicateTool, fmt.Sprintf("tool %q registered twice", name), ErrDuplicateTool)
}

// NewArgumentError wraps an argument validation failure for a tool.
func NewArgumentError(toolName string, err error) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeInvalidArguments, fmt.Sprintf("tool %s", toolName), fmt.Errorf("%w: %v", ErrInvalidArguments, err))
}
