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

// Package systemprompt embeds the instructions sent to model backends.
package systemprompt

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
)

//go:embed *.txt
var promptFiles embed.FS

//go:embed analysis/*.txt
var analysisFiles embed.FS

// maxAnalysisOutput bounds the command output sent for analysis.
const maxAnalysisOutput = 8 * 1024

// Load concatenates all embedded prompt files in lexical order.
func Load() (string, error) {
	return loadDir(promptFiles, ".")
}

// LoadAnalysis returns the instructions for analyzing command output.
func LoadAnalysis() (string, error) {
	return loadDir(analysisFiles, "analysis")
}

func loadDir(files embed.FS, dir string) (string, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded system prompt files: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}

	if len(names) == 0 {
		return "", fmt.Errorf("no system prompt files found in embedded set")
	}

	sort.Strings(names)

	var builder strings.Builder
	for idx, name := range names {
		data, err := files.ReadFile(path.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read system prompt file %q: %w", name, err)
		}
		builder.WriteString(string(data))
		if !strings.HasSuffix(builder.String(), "\n") {
			builder.WriteString("\n")
		}
		if idx < len(names)-1 {
			// Separate prompts with a newline for clarity.
			builder.WriteString("\n")
		}
	}

	return builder.String(), nil
}

// AnalysisInput is the user message of an analysis request. Output
// beyond maxAnalysisOutput bytes is cut and marked.
func AnalysisInput(query, command, output string) string {
	output = strings.TrimSpace(output)
	if len(output) > maxAnalysisOutput {
		output = strings.ToValidUTF8(output[:maxAnalysisOutput], "") + "\n[output truncated]"
	}
	if output == "" {
		output = "(no output)"
	}
	return fmt.Sprintf("Original query: %q\n\nCommand: %s\n\nCommand results:\n%s", query, command, output)
}

// Tool is one catalog line of the rendered prompt.
type Tool struct {
	Name        string
	Description string
}

// Render loads the prompt and fills in the working directory and the
// tool catalog.
func Render(workDir string, tools []Tool) (string, error) {
	raw, err := Load()
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("system").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse system prompt: %w", err)
	}
	if workDir == "" {
		workDir = "."
	}
	var builder strings.Builder
	data := struct {
		WorkDir string
		Tools   []Tool
	}{WorkDir: workDir, Tools: tools}
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return builder.String(), nil
}
