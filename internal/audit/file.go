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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink writes JSON lines to a file opened for append only.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenFile opens path for appending, creating it and its directory.
func OpenFile(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{file: file, path: path}, nil
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes rec as one line. The whole line is written under the
// lock with a single write call.
func (s *FileSink) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return appendError(err)
	}
	line, err := json.Marshal(stamp(rec))
	if err != nil {
		return appendError(err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return appendError(os.ErrClosed)
	}
	if _, err := s.file.Write(line); err != nil {
		return appendError(err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
