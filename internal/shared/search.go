package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeSearch lowercases s and strips Vietnamese diacritics so "Thợ Nhuộm"
// matches "tho nhuom".
func NormalizeSearch(s string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripper, s)
	if err != nil {
		out = s
	}
	out = strings.NewReplacer("đ", "d", "Đ", "D").Replace(out)
	return strings.ToLower(strings.TrimSpace(out))
}

// MatchesSearch reports whether every whitespace separated term of query
// occurs in at least one of the candidate fields.
func MatchesSearch(query string, fields ...string) bool {
	terms := strings.Fields(NormalizeSearch(query))
	if len(terms) == 0 {
		return true
	}
	normalized := make([]string, len(fields))
	for i, f := range fields {
		normalized[i] = NormalizeSearch(f)
	}
	for _, term := range terms {
		found := false
		for _, f := range normalized {
			if strings.Contains(f, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
