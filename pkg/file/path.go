package file

import (
	"path/filepath"
	"strings"
)

// SafeBaseName reduces an uploaded filename to a safe base name: path
// components are stripped and characters outside [A-Za-z0-9._ -] are
// replaced with underscores. Empty results become "file".
func SafeBaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), ". ")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}
