package htmlutil

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// ResolveURL makes href absolute against base. A href that fails to
// parse resolves to "".
func ResolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// FormValues collects name => value for every matched input element.
// Inputs without a name attribute are skipped; a missing value attribute
// yields an empty string (the server still expects the key).
func FormValues(sel *goquery.Selection) url.Values {
	values := url.Values{}
	sel.Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || name == "" {
			return
		}
		values.Set(name, input.AttrOr("value", ""))
	})
	return values
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// Non-printable runes become spaces so that a whitespace run made of
// tabs or newlines still collapses to a single separator.
func blankNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		} else {
			newStr.WriteRune(' ')
		}
	}
	return newStr.String()
}

// CleanText collapses inner whitespace and strips non-printable runes,
// the normalization applied to every display name scraped off a page.
func CleanText(s string) string {
	s = blankNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " ")
}
