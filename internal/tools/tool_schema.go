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
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/567-labs/instructor-go/pkg/instructor"
)

// MustParamsFor derives a parameter schema from the fields of struct T.
// Field descriptions come from `jsonschema:"description=..."` tags; fields
// without omitempty are required.
func MustParamsFor[T any]() map[string]Param {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		panic("schema type is nil")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	params, err := paramsForType(t)
	if err != nil {
		panic(err)
	}
	return params
}

func paramsForType(t reflect.Type) (map[string]Param, error) {
	schema, err := instructor.NewSchema(t)
	if err != nil {
		return nil, err
	}

	defName := t.Name()
	for _, fn := range schema.Functions {
		if fn.Name != defName {
			continue
		}
		raw, err := jsonSchemaToMap(fn.Parameters)
		if err != nil {
			return nil, err
		}
		return paramsFromSchemaMap(raw), nil
	}

	return nil, fmt.Errorf("schema definition %q not found", defName)
}

func jsonSchemaToMap(schema interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func paramsFromSchemaMap(raw map[string]interface{}) map[string]Param {
	required := make(map[string]bool)
	if list, ok := raw["required"].([]interface{}); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	params := make(map[string]Param)
	props, _ := raw["properties"].(map[string]interface{})
	for name, value := range props {
		prop, _ := value.(map[string]interface{})
		kind, _ := prop["type"].(string)
		if kind == "" {
			kind = ParamString
		}
		desc, _ := prop["description"].(string)
		params[name] = Param{Type: kind, Required: required[name], Description: desc}
	}
	return params
}

// JSONSchema renders a tool's parameters as a JSON-schema object suitable
// for model function definitions.
func JSONSchema(tool Tool) map[string]interface{} {
	params := tool.Parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	properties := make(map[string]interface{}, len(params))
	required := []string{}
	for _, name := range names {
		param := params[name]
		kind := param.Type
		if kind == "" {
			kind = ParamString
		}
		properties[name] = map[string]interface{}{
			"type":        kind,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
