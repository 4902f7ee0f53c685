package discovery

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
)

// maxSitemapURLs is the hard cap on URLs collected from sitemap(s),
// including recursion through a sitemap index, per spec §4.2.
const maxSitemapURLs = 10000

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName xml.Name      `xml:"sitemapindex"`
	Entries []sitemapItem `xml:"sitemap"`
}

type sitemapItem struct {
	Loc string `xml:"loc"`
}

// fetchSitemap retrieves siteRoot's sitemap.xml, recursing through a
// sitemap-index if present, and returns discovered page URLs capped at
// maxSitemapURLs.
func fetchSitemap(ctx context.Context, fetcher *httpfetch.Fetcher, siteRoot string) ([]model.Page, error) {
	body, err := fetcher.Get(ctx, siteRoot+"/sitemap.xml")
	if err != nil {
		return nil, err
	}
	return parseSitemap(ctx, fetcher, body, 0)
}

// parseSitemap parses raw sitemap bytes, recursing into any sitemap-index
// entries it finds. depth guards against pathological self-referential
// indexes: a sitemap more than three index levels below the first is
// rejected.
func parseSitemap(ctx context.Context, fetcher *httpfetch.Fetcher, body []byte, depth int) ([]model.Page, error) {
	if depth > 3 {
		return nil, fmt.Errorf("discovery: sitemap recursion too deep")
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		return pagesFromLocs(locsOf(set.URLs)), nil
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("discovery: parse sitemap: %w", err)
	}
	if len(idx.Entries) == 0 {
		return nil, fmt.Errorf("discovery: sitemap contains neither <url> nor <sitemap> entries")
	}

	var pages []model.Page
	for _, entry := range idx.Entries {
		if len(pages) >= maxSitemapURLs {
			break
		}
		childBody, err := fetcher.Get(ctx, entry.Loc)
		if err != nil {
			continue // one bad child sitemap doesn't fail the whole index
		}
		childPages, err := parseSitemap(ctx, fetcher, childBody, depth+1)
		if err != nil {
			continue
		}
		pages = append(pages, childPages...)
	}
	return capPages(pages, maxSitemapURLs), nil
}

func locsOf(urls []sitemapURL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.Loc)
	}
	return out
}

func pagesFromLocs(locs []string) []model.Page {
	pages := make([]model.Page, 0, len(locs))
	for _, loc := range locs {
		if len(pages) >= maxSitemapURLs {
			break
		}
		pages = append(pages, model.Page{URL: loc, Source: model.SourceSitemap})
	}
	return pages
}

func capPages(pages []model.Page, max int) []model.Page {
	if len(pages) > max {
		return pages[:max]
	}
	return pages
}
