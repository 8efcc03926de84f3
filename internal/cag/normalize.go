package cag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes a query for fingerprinting: trim, lowercase,
// replace punctuation runs with a single space, collapse whitespace.
func Normalize(query string) string {
	query = strings.ToLower(strings.TrimSpace(query))
	var b strings.Builder
	b.Grow(len(query))
	lastSpace := false
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		// Punctuation and whitespace both separate tokens.
		if !lastSpace && b.Len() > 0 {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Fingerprint is the stable cache key for a normalized query plus a
// canonical options string (empty for default options).
func Fingerprint(query, opts string) string {
	sum := sha256.Sum256([]byte(Normalize(query) + "|" + opts))
	return hex.EncodeToString(sum[:])
}
