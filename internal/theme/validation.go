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

package theme

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrInvalidColor = errors.New("invalid color format")
	ErrEmptyColor   = errors.New("color cannot be empty")
)

var hexColorRegex = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidateTheme validates all theme color values.
func ValidateTheme(t *Theme) error {
	if t == nil {
		return fmt.Errorf("theme is nil")
	}

	fields := []struct {
		name  string
		value string
	}{
		{"header_color", t.HeaderColor},
		{"prompt_color", t.PromptColor},
		{"elevated_color", t.ElevatedColor},
		{"success_color", t.SuccessColor},
		{"error_color", t.ErrorColor},
		{"warning_color", t.WarningColor},
		{"muted_color", t.MutedColor},
	}
	for _, field := range fields {
		if err := ValidateColor(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	return nil
}

// ValidateColor accepts #RGB, #RRGGBB or an ANSI index 0-255.
func ValidateColor(color string) error {
	if color == "" {
		return ErrEmptyColor
	}
	if hexColorRegex.MatchString(color) {
		return nil
	}
	if n, err := strconv.Atoi(color); err == nil && n >= 0 && n <= 255 {
		return nil
	}
	return fmt.Errorf("%w: %q (expected #RGB, #RRGGBB or 0-255)", ErrInvalidColor, color)
}
