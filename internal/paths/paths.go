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

package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidatePathString validates raw path input before resolution.
func ValidatePathString(path string, maxLen int) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.IndexByte(path, 0) != -1 {
		return fmt.Errorf("path contains null byte")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path is not valid UTF-8")
	}
	for _, r := range path {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			return fmt.Errorf("path contains unsupported unicode combining mark")
		}
	}
	if maxLen > 0 {
		if len(path) > maxLen {
			return fmt.Errorf("path exceeds maximum length of %d characters", maxLen)
		}
		if len(filepath.Clean(path)) > maxLen {
			return fmt.Errorf("path exceeds maximum length of %d characters", maxLen)
		}
	}
	return nil
}

// ResolveDirectory returns the absolute, symlink-free form of an existing directory.
func ResolveDirectory(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid directory: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %v", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat directory: %v", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path '%s' is not a directory", path)
	}
	return resolved, nil
}

// HasPathPrefix returns true when path is within base.
func HasPathPrefix(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}

// ResolveWhitelistEntry resolves a whitelist entry relative to a base.
func ResolveWhitelistEntry(entry, baseResolved string) (string, error) {
	candidate := entry
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(baseResolved, candidate)
	}
	candidate = filepath.Clean(candidate)
	if _, err := os.Lstat(candidate); err == nil {
		resolved, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed path: %v", err)
		}
		return resolved, nil
	} else if os.IsNotExist(err) {
		return candidate, nil
	} else {
		return "", fmt.Errorf("failed to stat allowed path: %v", err)
	}
}

// WithinWhitelist reports whether resolved lies under one of the entries.
// Relative entries are taken against baseResolved. An empty whitelist allows
// everything.
func WithinWhitelist(resolved string, entries []string, baseResolved string) (bool, error) {
	if len(entries) == 0 {
		return true, nil
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		root, err := ResolveWhitelistEntry(entry, baseResolved)
		if err != nil {
			return false, err
		}
		if HasPathPrefix(resolved, root) {
			return true, nil
		}
	}
	return false, nil
}
