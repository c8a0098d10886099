package instructions

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.txt
var instructionFiles embed.FS

// Load concatenates all embedded instruction files in lexical order,
// separated by a blank line.
func Load() (string, error) {
	entries, err := fs.ReadDir(instructionFiles, ".")
	if err != nil {
		return "", fmt.Errorf("failed to read embedded instruction files: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}

	if len(names) == 0 {
		return "", fmt.Errorf("no instruction files found in embedded set")
	}

	sort.Strings(names)

	var builder strings.Builder
	for idx, name := range names {
		data, err := instructionFiles.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to read instruction file %q: %w", name, err)
		}
		builder.WriteString(string(data))
		if !strings.HasSuffix(builder.String(), "\n") {
			builder.WriteString("\n")
		}
		if idx < len(names)-1 {
			builder.WriteString("\n")
		}
	}

	return builder.String(), nil
}
