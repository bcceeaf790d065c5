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
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"terminalbot/internal/tools"
)

const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOpenAIURL     = "https://api.openai.com/v1"
	DefaultOllamaModel   = "llama3.2:1b"
	DefaultOllamaHost    = "http://localhost:11434"
	defaultMaxTokens     = 2000
	defaultTemperature   = float32(0.1)
	ollamaPlaceholderKey = "ollama"
)

// ChatClient is the part of the go-openai client the backend uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var (
	_ ChatClient = (*openai.Client)(nil)
	_ Backend    = (*ChatBackend)(nil)
	_ Analyzer   = (*ChatBackend)(nil)
)

// ChatBackend talks to any OpenAI-compatible chat completion endpoint.
type ChatBackend struct {
	name     string
	client   ChatClient
	settings Settings
	logger   zerolog.Logger
}

// NewOpenAI returns the OpenAI backend.
func NewOpenAI(settings Settings, logger zerolog.Logger) *ChatBackend {
	if settings.Model == "" {
		settings.Model = DefaultOpenAIModel
	}
	clientConfig := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		clientConfig.BaseURL = settings.BaseURL
		clientConfig.HTTPClient = &http.Client{}
	}
	return NewChatBackend("openai", openai.NewClientWithConfig(clientConfig), settings, logger)
}

// NewOllama returns a backend for a local Ollama server through its
// OpenAI-compatible /v1 endpoint.
func NewOllama(settings Settings, logger zerolog.Logger) *ChatBackend {
	if settings.Model == "" {
		settings.Model = DefaultOllamaModel
	}
	host := strings.TrimRight(settings.BaseURL, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}
	settings.BaseURL = host
	key := settings.APIKey
	if key == "" {
		key = ollamaPlaceholderKey
	}
	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = host
	return NewChatBackend("ollama", openai.NewClientWithConfig(clientConfig), settings, logger)
}

// NewChatBackend wraps an existing client. Tests pass a mock here.
func NewChatBackend(name string, client ChatClient, settings Settings, logger zerolog.Logger) *ChatBackend {
	return &ChatBackend{name: name, client: client, settings: settings, logger: logger.With().Str("backend", name).Logger()}
}

func (b *ChatBackend) Name() string           { return b.name }
func (b *ChatBackend) Timeout() time.Duration { return b.settings.timeout() }

// Generate sends the system prompt, the query and the tool catalog.
func (b *ChatBackend) Generate(ctx context.Context, req Request) (Response, error) {
	prompt, err := systemPrompt(req)
	if err != nil {
		return Response{}, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model: b.settings.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Query},
		},
		Tools:       openAITools(req.Catalog),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if b.settings.Temperature != nil {
		chatReq.Temperature = *b.settings.Temperature
	}
	if b.settings.MaxTokens > 0 {
		chatReq.MaxTokens = b.settings.MaxTokens
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, Classify(b.name, err)
	}
	b.logger.Debug().Dur("latency", time.Since(start)).Int("choices", len(resp.Choices)).Msg("completion received")
	return b.parse(resp)
}

// Analyze asks the model to explain command output. No tools are offered.
func (b *ChatBackend) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	system, user, err := analysisPrompt(req)
	if err != nil {
		return "", err
	}
	chatReq := openai.ChatCompletionRequest{
		Model: b.settings.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if b.settings.Temperature != nil {
		chatReq.Temperature = *b.settings.Temperature
	}
	if b.settings.MaxTokens > 0 {
		chatReq.MaxTokens = b.settings.MaxTokens
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", Classify(b.name, err)
	}
	b.logger.Debug().Dur("latency", time.Since(start)).Msg("analysis received")
	if len(resp.Choices) == 0 {
		return "", malformed(b.name, "no choices in completion")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", malformed(b.name, "empty analysis")
	}
	return text, nil
}

func (b *ChatBackend) parse(resp openai.ChatCompletionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, malformed(b.name, "no choices in completion")
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		if len(msg.ToolCalls) > 1 {
			b.logger.Warn().Int("tool_calls", len(msg.ToolCalls)).Msg("using first of several tool calls")
		}
		call := msg.ToolCalls[0]
		if call.Function.Name == "" {
			return Response{}, malformed(b.name, "tool call without a name")
		}
		args, err := decodeArguments([]byte(call.Function.Arguments))
		if err != nil {
			return Response{}, malformed(b.name, "tool call arguments: %v", err)
		}
		return Response{Kind: KindToolCall, Tool: DecodeToolName(call.Function.Name), Args: args}, nil
	}
	return parseTextResponse(b.name, msg.Content)
}

func openAITools(catalog []tools.Tool) []openai.Tool {
	if len(catalog) == 0 {
		return nil
	}
	defs := make([]openai.Tool, 0, len(catalog))
	for _, tool := range catalog {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        EncodeToolName(tool.Name()),
				Description: tool.Description(),
				Parameters:  tools.JSONSchema(tool),
			},
		})
	}
	return defs
}
