package domain

import "strings"

// Sanitize normalizes user-supplied text before it is stored: trims
// surrounding whitespace and strips control characters that would break
// Slack rendering.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SanitizePtr sanitizes optional text, mapping empty results to nil.
func SanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := Sanitize(*s)
	if clean == "" {
		return nil
	}
	return &clean
}
