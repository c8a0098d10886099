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

// Package theme styles the interactive console.
package theme

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds console colors as hex (#RGB, #RRGGBB) or ANSI (0-255) values.
type Theme struct {
	HeaderColor   string `json:"header_color"`
	PromptColor   string `json:"prompt_color"`
	ElevatedColor string `json:"elevated_color"`
	SuccessColor  string `json:"success_color"`
	ErrorColor    string `json:"error_color"`
	WarningColor  string `json:"warning_color"`
	MutedColor    string `json:"muted_color"`
}

// ColorScheme is a Theme turned into render styles.
type ColorScheme struct {
	Header   lipgloss.Style
	Prompt   lipgloss.Style
	Elevated lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
}

// DefaultTheme returns a theme with default values
func DefaultTheme() *Theme {
	return &Theme{
		HeaderColor:   "#cba6f7",
		PromptColor:   "#89b4fa",
		ElevatedColor: "#f38ba8",
		SuccessColor:  "#a6e3a1",
		ErrorColor:    "#f38ba8",
		WarningColor:  "#fab387",
		MutedColor:    "#6c7086",
	}
}

// LoadTheme loads theme configuration from a JSON file. A missing file
// yields the default theme.
func LoadTheme(filepath string) (*Theme, error) {
	theme := DefaultTheme()
	if filepath == "" {
		return theme, nil
	}

	data, err := os.ReadFile(filepath)
	if errors.Is(err, os.ErrNotExist) {
		return theme, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, theme); err != nil {
		return nil, err
	}

	return theme, nil
}

// ToColorScheme converts theme colors to styles.
func (t *Theme) ToColorScheme() *ColorScheme {
	fg := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
	return &ColorScheme{
		Header:   fg(t.HeaderColor).Bold(true),
		Prompt:   fg(t.PromptColor),
		Elevated: fg(t.ElevatedColor).Bold(true),
		Success:  fg(t.SuccessColor),
		Error:    fg(t.ErrorColor).Bold(true),
		Warning:  fg(t.WarningColor),
		Muted:    fg(t.MutedColor),
	}
}

// DisabledColorScheme returns a color scheme with all colors disabled (for NO_COLOR).
func DisabledColorScheme() *ColorScheme {
	plain := lipgloss.NewStyle()
	return &ColorScheme{
		Header:   plain,
		Prompt:   plain,
		Elevated: plain,
		Success:  plain,
		Error:    plain,
		Warning:  plain,
		Muted:    plain,
	}
}
