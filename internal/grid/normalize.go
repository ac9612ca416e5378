package grid

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransform decomposes to NFD, strips combining marks, and
// recomposes. Built once; Transformer chains are stateless between
// calls via transform.String.
var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases s and strips diacritics, so "Câmara" and
// "camara" compare equal. Used for free-text filtering of names, MAC
// and IP addresses. Returns "" for "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(foldTransform, s)
	if err != nil {
		// Malformed input: fall back to plain case folding.
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}
