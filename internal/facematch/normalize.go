package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeLabel normalizes an identity label for logs and comparison
// (no diacritics, single spaces, dashes as spaces).
func NormalizeLabel(label string) string {
	label = RemoveDiacritics(label)
	label = strings.ReplaceAll(label, "-", " ")
	return strings.Join(strings.Fields(label), " ")
}
