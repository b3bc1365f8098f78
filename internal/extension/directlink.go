package extension

import (
	"regexp"
	"strings"
)

// directLinkPattern matches fragments that ask the sidebar to open on a
// specific annotation, query or group.
var directLinkPattern = regexp.MustCompile(`#annotations:(query:|group:)?[^#]+$`)

// IsDirectLink reports whether url carries a direct-link fragment.
func IsDirectLink(url string) bool {
	return directLinkPattern.MatchString(url)
}

// sameDocument reports whether a and b differ at most in their fragment.
func sameDocument(a, b string) bool {
	return stripFragment(a) == stripFragment(b)
}

func stripFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
