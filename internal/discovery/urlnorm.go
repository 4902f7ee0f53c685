package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/leadforge/core/internal/model"
)

// canonicalize applies the dedup rule of spec §4.2: lowercase host, strip
// trailing slash, drop fragments, and preserve the query string only when
// the path is root-only ("/").
func canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path != "" {
		// Query strings are only meaningful on the root path; anywhere
		// else they vary per-visit (tracking params, pagination) and would
		// otherwise defeat dedup.
		u.RawQuery = ""
	}
	return u.String(), nil
}

var (
	rxAbout    = regexp.MustCompile(`^/about`)
	rxContact  = regexp.MustCompile(`^/contact`)
	rxBlog     = regexp.MustCompile(`^/blog`)
	rxServices = regexp.MustCompile(`^/services|^/service/`)
	rxProducts = regexp.MustCompile(`^/products|^/product/`)
	rxPricing  = regexp.MustCompile(`^/pricing`)
)

// classify assigns a PageType to a path, matching the first rule in the
// priority order spec §4.2 specifies.
func classify(path string) model.PageType {
	switch {
	case path == "" || path == "/":
		return model.PageHome
	case rxAbout.MatchString(path):
		return model.PageAbout
	case rxContact.MatchString(path):
		return model.PageContact
	case rxBlog.MatchString(path):
		return model.PageBlog
	case rxServices.MatchString(path):
		return model.PageServices
	case rxProducts.MatchString(path):
		return model.PageProducts
	case rxPricing.MatchString(path):
		return model.PagePricing
	default:
		return model.PageOther
	}
}

// level counts non-empty path segments, per spec §4.2.
func level(path string) int {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := 0
	for _, p := range parts {
		if p != "" {
			n++
		}
	}
	return n
}

// sameOrigin reports whether candidate shares root's scheme+host.
func sameOrigin(root, candidate *url.URL) bool {
	return strings.EqualFold(root.Scheme, candidate.Scheme) && strings.EqualFold(root.Host, candidate.Host)
}

// pathOf returns candidate's URL path, defaulting to "/".
func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// typePriority ranks PageType for the top-200 truncation heuristic of
// spec §4.2: home > services > product > about > contact > blog > other.
func typePriority(t model.PageType) int {
	switch t {
	case model.PageHome:
		return 0
	case model.PageServices:
		return 1
	case model.PageProducts:
		return 2
	case model.PageAbout:
		return 3
	case model.PageContact:
		return 4
	case model.PageBlog:
		return 5
	default:
		return 6
	}
}
