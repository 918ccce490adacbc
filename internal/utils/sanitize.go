package utils

import "strings"

// maxIDLength bounds sanitized identifiers so they stay usable as directory
// names on every filesystem we care about.
const maxIDLength = 200

// SanitizeID makes an item identifier safe for filesystem use. Path
// separators, control characters, wildcards and anything outside
// [A-Za-z0-9._-] become underscores; a leading dot is replaced so the
// directory is never hidden. The function is idempotent.
func SanitizeID(id string) string {
	var sb strings.Builder
	sb.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if strings.HasPrefix(out, ".") {
		out = "_" + out[1:]
	}
	if len(out) > maxIDLength {
		out = out[:maxIDLength]
	}
	if out == "" {
		out = "_"
	}
	return out
}
