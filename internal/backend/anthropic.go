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
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/rs/zerolog"

	"terminalbot/internal/tools"
)

const DefaultAnthropicModel = "claude-3-5-haiku-20241022"

// MessagesClient is the part of the go-anthropic client the backend uses.
type MessagesClient interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

var (
	_ MessagesClient = (*anthropic.Client)(nil)
	_ Backend        = (*AnthropicBackend)(nil)
	_ Analyzer       = (*AnthropicBackend)(nil)
)

// AnthropicBackend calls the Anthropic messages API.
type AnthropicBackend struct {
	client   MessagesClient
	settings Settings
	logger   zerolog.Logger
}

// NewAnthropic returns the Anthropic backend.
func NewAnthropic(settings Settings, logger zerolog.Logger) *AnthropicBackend {
	var opts []anthropic.ClientOption
	if settings.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(settings.BaseURL))
	}
	return NewAnthropicWithClient(anthropic.NewClient(settings.APIKey, opts...), settings, logger)
}

// NewAnthropicWithClient wraps an existing client.
func NewAnthropicWithClient(client MessagesClient, settings Settings, logger zerolog.Logger) *AnthropicBackend {
	if settings.Model == "" {
		settings.Model = DefaultAnthropicModel
	}
	return &AnthropicBackend{client: client, settings: settings, logger: logger.With().Str("backend", "anthropic").Logger()}
}

func (b *AnthropicBackend) Name() string           { return "anthropic" }
func (b *AnthropicBackend) Timeout() time.Duration { return b.settings.timeout() }

func (b *AnthropicBackend) Generate(ctx context.Context, req Request) (Response, error) {
	prompt, err := systemPrompt(req)
	if err != nil {
		return Response{}, err
	}
	maxTokens := defaultMaxTokens
	if b.settings.MaxTokens > 0 {
		maxTokens = b.settings.MaxTokens
	}
	temperature := defaultTemperature
	if b.settings.Temperature != nil {
		temperature = *b.settings.Temperature
	}
	msgReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(b.settings.Model),
		System:      prompt,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(req.Query)},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Tools:       anthropicTools(req.Catalog),
	}

	start := time.Now()
	resp, err := b.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return Response{}, Classify(b.Name(), err)
	}
	b.logger.Debug().Dur("latency", time.Since(start)).Str("stop_reason", string(resp.StopReason)).Msg("message received")
	return b.parse(resp)
}

// Analyze asks the model to explain command output. No tools are offered.
func (b *AnthropicBackend) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	system, user, err := analysisPrompt(req)
	if err != nil {
		return "", err
	}
	maxTokens := defaultMaxTokens
	if b.settings.MaxTokens > 0 {
		maxTokens = b.settings.MaxTokens
	}
	temperature := defaultTemperature
	if b.settings.Temperature != nil {
		temperature = *b.settings.Temperature
	}
	msgReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(b.settings.Model),
		System:      system,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(user)},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}

	start := time.Now()
	resp, err := b.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return "", Classify(b.Name(), err)
	}
	b.logger.Debug().Dur("latency", time.Since(start)).Msg("analysis received")
	var text strings.Builder
	for _, content := range resp.Content {
		if content.Type == anthropic.MessagesContentTypeText {
			text.WriteString(content.GetText())
		}
	}
	analysis := strings.TrimSpace(text.String())
	if analysis == "" {
		return "", malformed(b.Name(), "empty analysis")
	}
	return analysis, nil
}

func (b *AnthropicBackend) parse(resp anthropic.MessagesResponse) (Response, error) {
	var text strings.Builder
	for _, content := range resp.Content {
		switch content.Type {
		case anthropic.MessagesContentTypeToolUse:
			if content.MessageContentToolUse == nil || content.MessageContentToolUse.Name == "" {
				return Response{}, malformed(b.Name(), "tool_use block without a name")
			}
			args, err := decodeArguments(content.MessageContentToolUse.Input)
			if err != nil {
				return Response{}, malformed(b.Name(), "tool_use input: %v", err)
			}
			return Response{Kind: KindToolCall, Tool: DecodeToolName(content.MessageContentToolUse.Name), Args: args}, nil
		case anthropic.MessagesContentTypeText:
			text.WriteString(content.GetText())
		}
	}
	return parseTextResponse(b.Name(), text.String())
}

func anthropicTools(catalog []tools.Tool) []anthropic.ToolDefinition {
	if len(catalog) == 0 {
		return nil
	}
	defs := make([]anthropic.ToolDefinition, 0, len(catalog))
	for _, tool := range catalog {
		defs = append(defs, anthropic.ToolDefinition{
			Name:        EncodeToolName(tool.Name()),
			Description: tool.Description(),
			InputSchema: tools.JSONSchema(tool),
		})
	}
	return defs
}
