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
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ValidationRule checks tool arguments and returns an error if invalid.
type ValidationRule func(args map[string]string) error

// ValidateArgs checks args against the tool's parameter schema, then runs
// the tool's own validation.
func ValidateArgs(tool Tool, args map[string]string) error {
	params := tool.Parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		param := params[name]
		value, present := args[name]
		if !present || strings.TrimSpace(value) == "" {
			if param.Required {
				return NewArgumentError(tool.Name(), fmt.Errorf("missing required parameter %q", name))
			}
			continue
		}
		if err := checkParamType(name, param.Type, value); err != nil {
			return NewArgumentError(tool.Name(), err)
		}
	}

	if err := tool.Validate(args); err != nil {
		return NewArgumentError(tool.Name(), err)
	}
	return nil
}

func checkParamType(name, kind, value string) error {
	switch kind {
	case ParamInteger:
		if _, err := strconv.Atoi(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("parameter %q must be an integer, got %q", name, value)
		}
	case ParamBoolean:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("parameter %q must be a boolean, got %q", name, value)
		}
	}
	return nil
}

// ChainValidation runs rules in order until the first error.
func ChainValidation(rules ...ValidationRule) ValidationRule {
	return func(args map[string]string) error {
		for _, rule := range rules {
			if rule == nil {
				continue
			}
			if err := rule(args); err != nil {
				return err
			}
		}
		return nil
	}
}

// RequireArg ensures an argument is present and non-empty.
func RequireArg(key, message string) ValidationRule {
	return func(args map[string]string) error {
		if strings.TrimSpace(args[key]) == "" {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}

// MatchArg ensures an optional argument, when set, matches pattern.
func MatchArg(key string, pattern *regexp.Regexp, message string) ValidationRule {
	return func(args map[string]string) error {
		value, ok := args[key]
		if !ok || value == "" {
			return nil
		}
		if !pattern.MatchString(value) {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}

// IntRangeArg ensures an optional integer argument lies within [min, max].
func IntRangeArg(key string, min, max int) ValidationRule {
	return func(args map[string]string) error {
		value, ok := args[key]
		if !ok || strings.TrimSpace(value) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parameter %q must be an integer", key)
		}
		if n < min || n > max {
			return fmt.Errorf("parameter %q must be between %d and %d", key, min, max)
		}
		return nil
	}
}

// ArgOr returns args[key] trimmed, or fallback when unset.
func ArgOr(args map[string]string, key, fallback string) string {
	if value := strings.TrimSpace(args[key]); value != "" {
		return value
	}
	return fallback
}
