// validation.go - Input sanitisation for uploads.
package server

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameBytes = 255

// SanitizeFilename turns a client supplied name into a safe display name.
// It is never used as a storage path.
func SanitizeFilename(filename string) string {
	// Remove path separators
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")

	// Drop control characters, NUL included.
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	// Trim spaces and dots from start/end
	filename = strings.Trim(filename, " .")

	if len(filename) > maxFilenameBytes {
		ext := filepath.Ext(filename)
		if len(ext) > 16 {
			ext = ""
		}
		filename = truncateBytes(filename[:len(filename)-len(ext)], maxFilenameBytes-len(ext)) + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
