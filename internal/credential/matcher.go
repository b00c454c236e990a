package credential

import (
	"regexp"
	"strings"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/entity"
)

// Matches reports whether a credential applies to the page at rawURL: the
// stored url is equal to it, or the url pattern matches the whole of it with
// '*' standing for any run of characters. Matching is case-sensitive and
// does no URL normalization.
func Matches(c *entity.Credential, rawURL string) bool {
	if c.URL == rawURL {
		return true
	}
	if c.URLPattern == nil || *c.URLPattern == "" {
		return false
	}
	re, err := patternRegexp(*c.URLPattern)
	if err != nil {
		return false
	}
	return re.MatchString(rawURL)
}

func patternRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
