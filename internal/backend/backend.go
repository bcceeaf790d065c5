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

// Package backend defines the model backend contract and its OpenAI,
// Ollama and Anthropic implementations. Backends are stateless: every
// call carries only the system prompt and the single user query.
package backend

import (
	"context"
	"time"

	"terminalbot/internal/tools"
	systemprompt "terminalbot/system_prompt"
)

// DefaultTimeout bounds one backend call.
const DefaultTimeout = 10 * time.Second

// Kind tells an answer apart from a tool selection.
type Kind string

const (
	KindAnswer   Kind = "ANSWER"
	KindToolCall Kind = "TOOL_CALL"
)

// Request is one resolution attempt.
type Request struct {
	Query   string
	WorkDir string
	Catalog []tools.Tool
}

// Response is either a textual answer or one tool invocation.
type Response struct {
	Kind Kind
	Text string
	Tool string
	Args map[string]string
}

// Backend resolves a query into a Response.
type Backend interface {
	Name() string
	Timeout() time.Duration
	Generate(ctx context.Context, req Request) (Response, error)
}

// AnalysisRequest carries the output of an executed command.
type AnalysisRequest struct {
	Query   string
	Command string
	Output  string
}

// Analyzer explains command output in terms of the query that produced
// it. Like Generate, every call is a single exchange.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Settings configures one provider.
type Settings struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration
}

func (s Settings) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func analysisPrompt(req AnalysisRequest) (system, user string, err error) {
	system, err = systemprompt.LoadAnalysis()
	if err != nil {
		return "", "", err
	}
	return system, systemprompt.AnalysisInput(req.Query, req.Command, req.Output), nil
}

func systemPrompt(req Request) (string, error) {
	catalog := make([]systemprompt.Tool, len(req.Catalog))
	for i, tool := range req.Catalog {
		catalog[i] = systemprompt.Tool{Name: tool.Name(), Description: tool.Description()}
	}
	return systemprompt.Render(req.WorkDir, catalog)
}
