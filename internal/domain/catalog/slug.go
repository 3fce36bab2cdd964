package catalog

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes runes and removes combining marks, so accented
// letters fold to their ASCII base before slug filtering.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lower-cases the input, strips characters outside [a-z0-9\s-],
// and collapses every whitespace run into a single hyphen.
func Slugify(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), "-")
}

// ExternalKey derives the stable join key for a catalog item variant.
// The key is a pure function of the product identifier, the variant label
// and the group: identical inputs always yield the same key.
//
// An absent variant label is treated as "normal"; if its slug still comes
// out empty the literal "base" is used. A group without an abbreviation
// falls back to its numeric identifier so keys stay distinct per group.
func ExternalKey(productID, variant string, group Group) string {
	if variant == "" {
		variant = "normal"
	}
	variantSlug := Slugify(variant)
	if variantSlug == "" {
		variantSlug = "base"
	}

	groupSlug := Slugify(group.Abbreviation)
	if groupSlug == "" {
		groupSlug = strconv.Itoa(group.ID)
	}

	return productID + "-" + variantSlug + "-" + groupSlug
}
