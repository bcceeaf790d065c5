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
	"strings"

	"github.com/rs/zerolog"

	apperrors "terminalbot/internal/errors"
)

// Provider names accepted in a chain.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultChain is tried when configuration names no chain.
var DefaultChain = []string{ProviderOllama, ProviderOpenAI}

// ChainSettings configures the ordered backend chain.
type ChainSettings struct {
	Order     []string
	Ollama    Settings
	OpenAI    Settings
	Anthropic Settings
}

// NewChain builds the configured backends in order. Hosted providers
// without an API key are skipped; an unknown provider name is a
// configuration error. Repeated names are kept once.
func NewChain(settings ChainSettings, logger zerolog.Logger) ([]Backend, error) {
	order := settings.Order
	if len(order) == 0 {
		order = DefaultChain
	}
	seen := make(map[string]bool)
	var chain []Backend
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case ProviderOllama:
			chain = append(chain, NewOllama(settings.Ollama, logger))
		case ProviderOpenAI:
			if settings.OpenAI.APIKey == "" {
				logger.Warn().Str("backend", name).Msg("no API key configured, skipping backend")
				continue
			}
			chain = append(chain, NewOpenAI(settings.OpenAI, logger))
		case ProviderAnthropic:
			if settings.Anthropic.APIKey == "" {
				logger.Warn().Str("backend", name).Msg("no API key configured, skipping backend")
				continue
			}
			chain = append(chain, NewAnthropic(settings.Anthropic, logger))
		default:
			return nil, apperrors.Newf(apperrors.CodeConfig, "unknown backend %q", raw)
		}
		logger.Debug().Str("backend", name).Int("position", len(chain)).Msg("backend added to chain")
	}
	return chain, nil
}

// Names lists the backends of a chain in order.
func Names(chain []Backend) []string {
	names := make([]string, len(chain))
	for i, b := range chain {
		names[i] = b.Name()
	}
	return names
}
