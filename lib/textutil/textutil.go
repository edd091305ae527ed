package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeHandle canonicalizes a profile handle so that cache keys for
// the same account always collide ("/SomeUser/" == "someuser").
func NormalizeHandle(handle string) string {
	handle = strings.ToLower(handle)
	handle = strings.Trim(handle, "/ \n\t")
	return whitespaceRegex.ReplaceAllString(handle, "")
}
