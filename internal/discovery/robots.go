package discovery

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
)

// fetchRobotsSitemaps retrieves robots.txt and extracts every `Sitemap:`
// directive's URL, fetching and parsing each as a sitemap in its own right
// (spec §4.2 source 2).
func fetchRobotsSitemaps(ctx context.Context, fetcher *httpfetch.Fetcher, siteRoot string) ([]model.Page, error) {
	body, err := fetcher.Get(ctx, siteRoot+"/robots.txt")
	if err != nil {
		return nil, err
	}

	sitemapURLs := parseRobotsSitemapDirectives(body)

	var pages []model.Page
	for _, su := range sitemapURLs {
		smBody, err := fetcher.Get(ctx, su)
		if err != nil {
			continue
		}
		smPages, err := parseSitemap(ctx, fetcher, smBody, 0)
		if err != nil {
			continue
		}
		for i := range smPages {
			smPages[i].Source = model.SourceRobots
		}
		pages = append(pages, smPages...)
	}
	return pages, nil
}

// parseRobotsSitemapDirectives scans robots.txt line by line for
// `Sitemap: <url>` directives, case-insensitively.
func parseRobotsSitemapDirectives(body []byte) []string {
	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "sitemap:") {
			continue
		}
		u := strings.TrimSpace(line[len("sitemap:"):])
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
