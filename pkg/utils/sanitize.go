package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// --- Slug Sanitization ---
var (
	slugSeparators   = regexp.MustCompile(`[\s_/]+`)    // Whitespace, underscores and slashes become hyphens
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]`) // Anything outside the URL-safe alphabet is dropped
	slugHyphenRuns   = regexp.MustCompile(`-+`)         // Collapse repeated hyphens
)

// Slugify lowercases input and reduces it to [a-z0-9-], with no leading/trailing hyphens.
// The result may be empty; callers decide on a fallback.
func Slugify(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = slugSeparators.ReplaceAllString(s, "-")
	s = slugInvalidChars.ReplaceAllString(s, "")
	s = slugHyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ToPosix converts a host path to forward-slash form for manifests.
// Backslashes are converted even on Unix so manifests written on Windows stay portable.
func ToPosix(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}
