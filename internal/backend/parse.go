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
	"encoding/json"
	"strconv"
	"strings"
)

// Provider function names may not contain dots.
const nameSeparator = "__"

// EncodeToolName turns "plugin.tool" into a provider-safe function name.
func EncodeToolName(name string) string {
	return strings.ReplaceAll(name, ".", nameSeparator)
}

// DecodeToolName reverses EncodeToolName. Names already in dotted form
// pass through.
func DecodeToolName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), nameSeparator, ".")
}

// decodeArguments parses a JSON object of tool arguments into strings.
func decodeArguments(raw []byte) (map[string]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]string{}, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, err
	}
	return stringifyArgs(values), nil
}

func stringifyArgs(values map[string]any) map[string]string {
	args := make(map[string]string, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			args[key] = v
		case float64:
			args[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			args[key] = strconv.FormatBool(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			args[key] = string(encoded)
		}
	}
	return args
}

type textToolCall struct {
	Tool      string         `json:"tool"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextResponse turns plain content into a Response. Local models
// often answer with a JSON object naming the tool instead of a native
// tool call; that form is accepted too.
func parseTextResponse(backend, content string) (Response, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return Response{}, malformed(backend, "empty response")
	}
	if body, ok := jsonObject(text); ok {
		var call textToolCall
		if err := json.Unmarshal([]byte(body), &call); err == nil {
			name := call.Tool
			if name == "" {
				name = call.Name
			}
			args := call.Args
			if args == nil {
				args = call.Arguments
			}
			if name != "" {
				return Response{Kind: KindToolCall, Tool: DecodeToolName(name), Args: stringifyArgs(args)}, nil
			}
		}
	}
	return Response{Kind: KindAnswer, Text: text}, nil
}

// jsonObject extracts a bare or fenced JSON object.
func jsonObject(text string) (string, bool) {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text, true
	}
	return "", false
}
