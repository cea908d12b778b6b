package logging

import (
	"strings"
	"unicode"
)

// maxSanitizedLength bounds the length of a sanitized value.
const maxSanitizedLength = 100

// Sanitize makes a user-supplied string (ranker names, ids, file paths) safe to
// embed in a log line. Line breaks and tabs are escaped, other control and
// non-printable characters become '?', and long values are truncated.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxSanitizedLength))
	for _, r := range s {
		var piece string
		switch {
		case r == '\n':
			piece = `\n`
		case r == '\r':
			piece = `\r`
		case r == '\t':
			piece = `\t`
		case r == '\\':
			piece = `\\`
		case unicode.IsControl(r), !unicode.IsPrint(r):
			piece = "?"
		default:
			piece = string(r)
		}
		// Whole pieces only, so a multi-byte rune is never split.
		if b.Len()+len(piece) > maxSanitizedLength {
			return b.String() + "...[truncated]"
		}
		b.WriteString(piece)
	}
	return b.String()
}
