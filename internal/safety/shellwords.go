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

package safety

import (
	"errors"
	"strings"
)

var errUnterminatedQuote = errors.New("unterminated quote")

// parsedCommand is a shell command split into simple-command segments.
// Substituted scripts ($(...) and backticks) are returned separately so
// they can be classified on their own.
type parsedCommand struct {
	segments [][]string
	nested   []string
}

// splitCommand tokenizes a POSIX-ish shell command line. Control operators
// (; & | && || newline) and grouping characters end a segment; redirection
// targets are dropped.
func splitCommand(command string) (parsedCommand, error) {
	var (
		out        parsedCommand
		segment    []string
		word       strings.Builder
		inWord     bool
		skipNext   bool
		runes      = []rune(command)
		singleQ    bool
		doubleQ    bool
		escapeNext bool
	)

	flushWord := func() {
		if !inWord {
			return
		}
		if skipNext {
			skipNext = false
		} else {
			segment = append(segment, word.String())
		}
		word.Reset()
		inWord = false
	}
	flushSegment := func() {
		flushWord()
		if len(segment) > 0 {
			out.segments = append(out.segments, segment)
		}
		segment = nil
		skipNext = false
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escapeNext {
			word.WriteRune(r)
			inWord = true
			escapeNext = false
			continue
		}
		if singleQ {
			if r == '\'' {
				singleQ = false
			} else {
				word.WriteRune(r)
			}
			continue
		}
		if r == '\\' {
			escapeNext = true
			inWord = true
			continue
		}
		if r == '`' {
			end := indexRune(runes, i+1, '`')
			if end < 0 {
				return out, errUnterminatedQuote
			}
			out.nested = append(out.nested, string(runes[i+1:end]))
			word.WriteString(string(runes[i : end+1]))
			inWord = true
			i = end
			continue
		}
		if r == '$' && i+1 < len(runes) && runes[i+1] == '(' {
			end := matchParen(runes, i+1)
			if end < 0 {
				return out, errUnterminatedQuote
			}
			out.nested = append(out.nested, string(runes[i+2:end]))
			word.WriteString(string(runes[i : end+1]))
			inWord = true
			i = end
			continue
		}
		if doubleQ {
			if r == '"' {
				doubleQ = false
			} else {
				word.WriteRune(r)
			}
			continue
		}

		switch r {
		case '\'':
			singleQ = true
			inWord = true
		case '"':
			doubleQ = true
			inWord = true
		case ' ', '\t':
			flushWord()
		case ';', '&', '|', '\n', '(', ')', '{', '}':
			flushSegment()
		case '<', '>':
			if inWord && isDigits(word.String()) {
				// redirected fd number, not an argument
				word.Reset()
				inWord = false
			}
			flushWord()
			for i+1 < len(runes) && (runes[i+1] == '>' || runes[i+1] == '&') {
				i++
			}
			if i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
				// fd duplication such as 2>&1
				for i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
					i++
				}
				continue
			}
			skipNext = true
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	if singleQ || doubleQ || escapeNext {
		return out, errUnterminatedQuote
	}
	flushSegment()
	return out, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

// matchParen returns the index of the parenthesis closing runes[open].
func matchParen(runes []rune, open int) int {
	depth := 0
	for i := open; i < len(runes); i++ {
		switch runes[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
