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

// Package procfs reads process and host state from a /proc tree.
package procfs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultRoot is the mount point of the proc filesystem.
const DefaultRoot = "/proc"

// ErrUnavailable is returned when the proc tree cannot be read.
var ErrUnavailable = errors.New("proc filesystem unavailable")

// Process is one live process.
type Process struct {
	PID     int
	Command string
}

// Reader reads a proc tree rooted at Root.
type Reader struct {
	Root string
}

// New returns a Reader for root, or for DefaultRoot when root is empty.
func New(root string) *Reader {
	if root == "" {
		root = DefaultRoot
	}
	return &Reader{Root: root}
}

// Snapshot maps live PIDs to their process names. It is what the safety
// validator receives as process context.
func (r *Reader) Snapshot(ctx context.Context) (map[int]string, error) {
	processes, err := r.Processes(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[int]string, len(processes))
	for _, proc := range processes {
		snapshot[proc.PID] = proc.Command
	}
	return snapshot, nil
}

// Processes lists processes in PID order whose name contains filter,
// case-insensitively. limit <= 0 means no limit.
func (r *Reader) Processes(ctx context.Context, filter string, limit int) ([]Process, error) {
	pids, err := r.pids()
	if err != nil {
		return nil, err
	}
	filter = strings.ToLower(filter)
	var processes []Process
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		command := r.command(pid)
		if command == "" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(command), filter) {
			continue
		}
		processes = append(processes, Process{PID: pid, Command: command})
		if limit > 0 && len(processes) >= limit {
			break
		}
	}
	return processes, nil
}

// FindPIDs returns the PIDs whose process name equals name.
func (r *Reader) FindPIDs(ctx context.Context, name string) ([]int, error) {
	processes, err := r.Processes(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	var matches []int
	for _, proc := range processes {
		if strings.EqualFold(proc.Command, name) {
			matches = append(matches, proc.PID)
		}
	}
	return matches, nil
}

// Cmdline returns the space-joined command line of pid.
func (r *Reader) Cmdline(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " ")), nil
}

// Uptime returns the host uptime.
func (r *Reader) Uptime() (time.Duration, error) {
	line, err := firstLine(filepath.Join(r.Root, "uptime"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("unable to parse uptime")
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse uptime: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// MemInfo returns the key/value pairs of meminfo, values with their unit.
func (r *Reader) MemInfo() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, "meminfo"))
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value := fields[1]
		if len(fields) > 2 {
			value += " " + fields[2]
		}
		entries[strings.TrimSuffix(fields[0], ":")] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// KernelRelease returns sys/kernel/osrelease.
func (r *Reader) KernelRelease() (string, error) {
	return firstLine(filepath.Join(r.Root, "sys", "kernel", "osrelease"))
}

func (r *Reader) pids() ([]int, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// command prefers comm and falls back to the first cmdline word.
func (r *Reader) command(pid int) string {
	command, _ := firstLine(filepath.Join(r.Root, strconv.Itoa(pid), "comm"))
	if command != "" {
		return command
	}
	cmdline, _ := r.Cmdline(pid)
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		return filepath.Base(fields[0])
	}
	return ""
}

func firstLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}

// FormatUptime renders d as "up 3d 04h05m06s".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	secs := total % 60
	if days > 0 {
		return fmt.Sprintf("up %dd %02dh%02dm%02ds", days, hours, minutes, secs)
	}
	return fmt.Sprintf("up %02dh%02dm%02ds", hours, minutes, secs)
}

// FormatBytes renders size with binary units.
func FormatBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	value := float64(size)
	unit := 0
	for unit < len(units)-1 && value >= 1024 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", size, units[unit])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}
