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
	"path"
	"strconv"
	"strings"
)

// Wrappers that run their operand as the real command. The value lists
// flags that consume the next word.
var commandWrappers = map[string]map[string]bool{
	"sudo":    {"-u": true, "-g": true, "-C": true, "-D": true, "-h": true, "-p": true, "-r": true, "-t": true, "-U": true},
	"doas":    {"-u": true, "-C": true},
	"env":     {"-u": true, "-C": true, "-S": true},
	"nohup":   {},
	"nice":    {"-n": true},
	"ionice":  {"-c": true, "-n": true, "-p": true},
	"exec":    {"-a": true},
	"command": {},
	"builtin": {},
	"time":    {"-f": true, "-o": true},
	"timeout": {"-s": true, "-k": true, "--signal": true, "--kill-after": true},
	"stdbuf":  {"-i": true, "-o": true, "-e": true},
	"setsid":  {},
	"busybox": {},
	"chroot":  {},
	"eval":    {},
	"watch":   {"-n": true, "--interval": true, "-q": true, "--equexit": true},
}

// Wrappers that hand their operands to a shell as one script.
var scriptWrappers = map[string]bool{"eval": true, "watch": true}

// Flags of kill, pkill and killall that consume the next word.
var signalValueFlags = map[string]bool{
	"-s": true, "-n": true, "-u": true, "-U": true, "-g": true, "-G": true,
	"-P": true, "-t": true, "-F": true, "-o": true, "-y": true,
	"--signal": true, "--user": true, "--ns": true, "--nslist": true,
	"--older-than": true, "--younger-than": true, "--pidfile": true,
}

func commandName(word string) string {
	return strings.ToLower(path.Base(word))
}

func isShell(name string) bool {
	switch name {
	case "sh", "bash", "dash", "zsh", "ksh", "ash":
		return true
	}
	return false
}

func isSignalCommand(name string) bool {
	switch name {
	case "kill", "pkill", "killall":
		return true
	}
	return false
}

// stripPrefixes drops variable assignments and wrapper commands such as
// sudo or nohup in front of the real command. script reports that a
// wrapper such as eval joins the remaining words into a shell script.
func stripPrefixes(words []string) (rest []string, script bool) {
	for len(words) > 0 {
		first := words[0]
		if isAssignment(first) {
			words = words[1:]
			continue
		}
		valueFlags, ok := commandWrappers[commandName(first)]
		if !ok {
			return words, script
		}
		name := commandName(first)
		if scriptWrappers[name] {
			script = true
		}
		words = words[1:]
		for len(words) > 0 {
			w := words[0]
			if w == "--" {
				words = words[1:]
				break
			}
			if name == "env" && isAssignment(w) {
				words = words[1:]
				continue
			}
			if !strings.HasPrefix(w, "-") {
				break
			}
			words = words[1:]
			if valueFlags[w] && len(words) > 0 {
				words = words[1:]
			}
		}
		if (name == "timeout" || name == "chroot") && len(words) > 0 {
			// duration or new root operand
			words = words[1:]
		}
		if name == "nice" && len(words) > 0 && isSignedNumber(words[0]) {
			words = words[1:]
		}
	}
	return words, script
}

func isAssignment(word string) bool {
	idx := strings.IndexByte(word, '=')
	if idx <= 0 {
		return false
	}
	for i, r := range word[:idx] {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

func isSignedNumber(word string) bool {
	_, err := strconv.Atoi(word)
	return err == nil
}

// shellScript returns the -c operand of a shell invocation.
func shellScript(args []string) (string, bool) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return "", false
		}
		if strings.Contains(strings.TrimLeft(arg, "-"), "c") && !strings.HasPrefix(arg, "--") {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func stripXargs(args []string) []string {
	valueFlags := map[string]bool{"-n": true, "-I": true, "-P": true, "-L": true, "-d": true, "-a": true, "-s": true, "-E": true}
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		flag := args[0]
		args = args[1:]
		if valueFlags[flag] && len(args) > 0 {
			args = args[1:]
		}
	}
	return args
}

// isSubstituted reports an operand whose value is only known after the
// shell expands a command or arithmetic substitution.
func isSubstituted(word string) bool {
	return strings.Contains(word, "$(") || strings.Contains(word, "`")
}

// sendsNoSignal reports a signal-0 liveness check such as "kill -0 PID".
func sendsNoSignal(name string, args []string) bool {
	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "--" || !strings.HasPrefix(tok, "-"):
			return false
		case tok == "-0" || tok == "--signal=0":
			return true
		case tok == "-s" || tok == "--signal" || name == "kill" && tok == "-n":
			return i+1 < len(args) && args[i+1] == "0"
		case name == "kill":
			// first option is the signal
			return false
		}
	}
	return false
}

// killTargets parses kill operands. The first dash option is the signal;
// a negative operand after it, or after "--", addresses a process group,
// and -1 addresses every process. Substituted operands are returned in
// unresolved.
func killTargets(args []string) (pids []int, names []string, unresolved []string) {
	signalSeen := false
	endOfOptions := false
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !endOfOptions {
			if tok == "--" {
				endOfOptions = true
				continue
			}
			if tok == "-l" || tok == "-L" || tok == "--list" || tok == "--table" {
				return nil, nil, nil
			}
			if signalValueFlags[tok] {
				signalSeen = true
				i++
				continue
			}
			if strings.HasPrefix(tok, "-") {
				if !signalSeen {
					signalSeen = true
					continue
				}
				if isSubstituted(tok) {
					unresolved = append(unresolved, tok)
					continue
				}
				if n, err := strconv.Atoi(tok[1:]); err == nil && n > 0 {
					pids = append(pids, n)
				}
				continue
			}
		}
		if isSubstituted(tok) {
			unresolved = append(unresolved, tok)
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 0 {
				n = -n
			}
			if n > 0 {
				pids = append(pids, n)
			}
			continue
		}
		if strings.HasPrefix(tok, "%") {
			continue
		}
		names = append(names, tok)
	}
	return pids, names, unresolved
}

// nameTargets returns the operands of pkill, killall or a systemctl verb.
func nameTargets(args []string) []string {
	var names []string
	endOfOptions := false
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !endOfOptions {
			if tok == "--" {
				endOfOptions = true
				continue
			}
			if signalValueFlags[tok] {
				i++
				continue
			}
			if strings.HasPrefix(tok, "-") {
				continue
			}
		}
		names = append(names, tok)
	}
	return names
}
