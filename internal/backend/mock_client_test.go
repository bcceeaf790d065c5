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

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"

	"terminalbot/internal/tools"
)

// MockChatClient is a mock implementation of ChatClient for testing.
type MockChatClient struct {
	CreateCompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

	// Call tracking
	CompletionCalls []openai.ChatCompletionRequest
}

// CreateChatCompletion implements ChatClient.
func (m *MockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.CompletionCalls = append(m.CompletionCalls, req)
	if m.CreateCompletionFunc != nil {
		return m.CreateCompletionFunc(ctx, req)
	}
	return textCompletion("mock response"), nil
}

// MockMessagesClient is a mock implementation of MessagesClient.
type MockMessagesClient struct {
	CreateMessagesFunc func(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)

	Calls []anthropic.MessagesRequest
}

// CreateMessages implements MessagesClient.
func (m *MockMessagesClient) CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
	m.Calls = append(m.Calls, req)
	if m.CreateMessagesFunc != nil {
		return m.CreateMessagesFunc(ctx, req)
	}
	text := "mock response"
	return anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{{Type: anthropic.MessagesContentTypeText, Text: &text}},
	}, nil
}

func textCompletion(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func toolCompletion(name, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: arguments},
				}},
			}},
		},
	}
}

func testCatalog() []tools.Tool {
	return []tools.Tool{
		&tools.ToolDefinition{
			NameValue:        "processes.find",
			DescriptionValue: "Find processes by name",
			ParametersValue: map[string]tools.Param{
				"name": {Type: tools.ParamString, Required: true, Description: "process name"},
			},
			CommandFunc: func(args map[string]string) (string, error) {
				return "pgrep -a " + tools.ShellQuote(args["name"]), nil
			},
		},
		&tools.ToolDefinition{
			NameValue:        "system.disk",
			DescriptionValue: "Show disk usage",
			CommandFunc:      tools.StaticCommand("df -h"),
		},
	}
}
