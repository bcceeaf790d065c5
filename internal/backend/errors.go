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

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"

	apperrors "terminalbot/internal/errors"
)

// Class is a backend failure category.
type Class string

const (
	ClassTimeout           Class = "TIMEOUT"
	ClassConnection        Class = "CONNECTION_ERROR"
	ClassAuth              Class = "AUTH_ERROR"
	ClassMalformedResponse Class = "MALFORMED_RESPONSE"
)

// ErrMalformed marks a response that is neither an answer nor a usable
// tool call.
var ErrMalformed = errors.New("malformed backend response")

// Error is a classified backend failure.
type Error struct {
	Backend string
	Class   Class
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsCoded wraps e with the backend error code.
func (e *Error) AsCoded() *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeBackend, "backend "+e.Backend, e)
}

func malformed(backend string, format string, args ...any) *Error {
	return &Error{Backend: backend, Class: ClassMalformedResponse, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
}

// Classify maps a client error to a backend failure class. Errors that are
// already classified are returned unchanged.
func Classify(backend string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return &Error{Backend: backend, Class: classOf(err), Err: err}
}

func classOf(err error) Class {
	if errors.Is(err, ErrMalformed) {
		return ClassMalformedResponse
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	var openaiAPI *openai.APIError
	if errors.As(err, &openaiAPI) {
		return classForStatus(openaiAPI.HTTPStatusCode)
	}
	var openaiReq *openai.RequestError
	if errors.As(err, &openaiReq) {
		return classForStatus(openaiReq.HTTPStatusCode)
	}

	var anthropicAPI *anthropic.APIError
	if errors.As(err, &anthropicAPI) {
		if anthropicAPI.IsAuthenticationErr() || anthropicAPI.IsPermissionErr() {
			return ClassAuth
		}
		return ClassConnection
	}
	var anthropicReq *anthropic.RequestError
	if errors.As(err, &anthropicReq) {
		return classForStatus(anthropicReq.StatusCode)
	}
	return ClassConnection
}

func classForStatus(status int) Class {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ClassTimeout
	default:
		return ClassConnection
	}
}
