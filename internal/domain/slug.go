package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a display name into a URL-safe slug: accents are
// stripped, letters lowercased, and runs of non-alphanumeric characters
// collapsed into single hyphens.
func Slugify(name string) string {
	folded, _, err := transform.String(slugStripper, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// SlugWithSuffix appends a uniqueness suffix to the slug of name.
// Callers pass something collision-resistant, typically a timestamp
// or a short random token.
func SlugWithSuffix(name, suffix string) string {
	slug := Slugify(name)
	if slug == "" {
		return suffix
	}
	if suffix == "" {
		return slug
	}
	return slug + "-" + suffix
}
