package discovery

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
)

// crawlHomepage fetches siteRoot and extracts every same-origin `<a href>`
// link, one level deep, per spec §4.2 source 3.
func crawlHomepage(ctx context.Context, fetcher *httpfetch.Fetcher, siteRoot string) ([]model.Page, error) {
	body, err := fetcher.Get(ctx, siteRoot)
	if err != nil {
		return nil, err
	}

	root, err := url.Parse(siteRoot)
	if err != nil {
		return nil, err
	}

	links := extractLinks(body)

	var pages []model.Page
	seen := map[string]bool{}
	for _, href := range links {
		resolved, err := root.Parse(href)
		if err != nil {
			continue
		}
		if !sameOrigin(root, resolved) {
			continue
		}
		resolved.Fragment = ""
		u := resolved.String()
		if seen[u] {
			continue
		}
		seen[u] = true
		pages = append(pages, model.Page{URL: u, Source: model.SourceNavigation})
	}
	return pages, nil
}

// extractLinks tokenizes body as HTML and returns every anchor href
// attribute value encountered, in document order.
func extractLinks(body []byte) []string {
	var hrefs []string
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				if strings.EqualFold(string(key), "href") {
					href := strings.TrimSpace(string(val))
					if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
						hrefs = append(hrefs, href)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}
