// Package normalizers cleans up command help text so long descriptions and
// examples read consistently across the CLI.
package normalizers

import "strings"

const Indentation = `  `

// LongDesc trims surrounding whitespace from a command's long description.
func LongDesc(s string) string {
	return strings.TrimSpace(s)
}

// Examples trims and uniformly indents a command's example block.
func Examples(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = Indentation + strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
