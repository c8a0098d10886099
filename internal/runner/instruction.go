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

package runner

import "strings"

// Instruction is an argument vector. Argv[0] is resolved through PATH.
type Instruction struct {
	Argv  []string
	shell bool
}

// Command builds an argument-vector instruction.
func Command(name string, args ...string) Instruction {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, name)
	argv = append(argv, args...)
	return Instruction{Argv: argv}
}

// Shell builds a free-text instruction interpreted by /bin/sh. Structured
// operations use Command; Shell exists for execute_command only.
func Shell(text string) Instruction {
	return Instruction{Argv: []string{"sh", "-c", text}, shell: true}
}

// IsShell reports whether the instruction was built from free text.
func (i Instruction) IsShell() bool {
	return i.shell
}

// String renders the instruction with shell quoting, for logs.
func (i Instruction) String() string {
	if len(i.Argv) == 0 {
		return ""
	}
	return joinCommand(i.Argv[0], i.Argv[1:])
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	if strings.IndexFunc(value, needsQuoting) == -1 {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@+,%", r):
		return false
	}
	return true
}
