package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds a generated slug, matching the catalogue's slug column.
const MaxLength = 255

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// Letters that do not decompose into an ASCII base and a combining mark.
var letterReplacer = strings.NewReplacer(
	"ı", "i",
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"đ", "d",
	"ł", "l",
)

// Generate creates a URL-friendly slug from the given title. Accented
// letters are folded to their ASCII base letter. Slugs longer than
// MaxLength are cut at the last word boundary that fits.
//
// Examples:
//   - "Kadın Giyim" → "kadin-giyim"
//   - "Crème Brûlée" → "creme-brulee"
//   - "Hello   World!" → "hello-world"
func Generate(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = letterReplacer.Replace(slug)

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, slug); err == nil {
		slug = folded
	}

	slug = slugRegexp.ReplaceAllString(slug, "-")
	return truncate(strings.Trim(slug, "-"), MaxLength)
}

func truncate(slug string, n int) string {
	if len(slug) <= n {
		return slug
	}
	cut := slug[:n]
	if slug[n] != '-' {
		if i := strings.LastIndexByte(cut, '-'); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, "-")
}
