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

// Package logging builds the process logger. Output always goes to stderr
// or a file: the stdio transport owns stdout.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Level  string // "debug", "info", "warn", "error", "disabled"
	Format string // "json", "console" or "auto"
	File   string // optional log file, appended
}

var isTerminal = term.IsTerminal

// New returns a logger writing to stderr, or to cfg.File when set. The
// returned closer releases the file and is safe to call when none was opened.
func New(cfg Config, stderr *os.File) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var (
		output io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
		if format == "auto" || format == "" {
			format = "json"
		}
	}

	switch format {
	case "console":
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	case "json":
	case "auto", "":
		if stderr != nil && isTerminal(int(stderr.Fd())) {
			output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		}
	default:
		_ = closer.Close()
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log format %q (expected json, console or auto)", cfg.Format)
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), closer, nil
}

// ParseLevel maps a level name onto zerolog. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
