// Package discovery implements the DiscoveryEngine: merging sitemap,
// robots.txt, and homepage-link sources into a ranked page list, then
// delegating final per-dimension selection to an AI chooser (spec §4.2).
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/aiclient"
	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
)

// perSourceTimeout bounds each of the three discovery sources, per
// spec §4.2.
const perSourceTimeout = 15 * time.Second

// Engine implements the DiscoveryEngine component.
type Engine struct {
	fetcher *httpfetch.Fetcher
	ai      *aiclient.Client
	logger  *zap.Logger
}

// New returns an Engine. ai may be nil, in which case page selection always
// falls back to the heuristic.
func New(fetcher *httpfetch.Fetcher, ai *aiclient.Client, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{fetcher: fetcher, ai: ai, logger: logger}
}

// Discover runs the three sources concurrently, merges their pages,
// classifies and ranks them, and hands the result to the AI chooser. It
// fails only if the site root itself cannot be fetched after retry.
func (e *Engine) Discover(ctx context.Context, siteRoot string) (model.Plan, error) {
	siteRoot = strings.TrimSuffix(siteRoot, "/")
	root, err := url.Parse(siteRoot)
	if err != nil {
		return model.Plan{}, fmt.Errorf("discovery: invalid site root %q: %w", siteRoot, err)
	}

	// The root fetch is the only failure that can fail discovery outright;
	// probe it first, with retry, before touching the three sources.
	if err := retryDo(ctx, rootFetchRetry, func(ctx context.Context) error {
		_, err := e.fetcher.Get(ctx, siteRoot)
		return err
	}); err != nil {
		return model.Plan{}, fmt.Errorf("discovery: site root %s unreachable after %d attempts: %w", siteRoot, rootFetchRetry.attempts, err)
	}

	var (
		wg                                  sync.WaitGroup
		sitemapPages, robotsPages, navPages []model.Page
		sitemapErr, robotsErr, navErr       error
	)
	run := func(pages *[]model.Page, perr *error, fn func(ctx context.Context) ([]model.Page, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			*pages, *perr = e.runWithTimeout(ctx, fn)
		}()
	}
	run(&sitemapPages, &sitemapErr, func(ctx context.Context) ([]model.Page, error) {
		return fetchSitemap(ctx, e.fetcher, siteRoot)
	})
	run(&robotsPages, &robotsErr, func(ctx context.Context) ([]model.Page, error) {
		return fetchRobotsSitemaps(ctx, e.fetcher, siteRoot)
	})
	run(&navPages, &navErr, func(ctx context.Context) ([]model.Page, error) {
		return crawlHomepage(ctx, e.fetcher, siteRoot)
	})
	wg.Wait()

	allPages, sources := mergePages(root, sitemapPages, robotsPages, navPages)

	issues := model.DiscoveryIssues{
		SitemapMissing: sitemapErr != nil,
		RobotsMissing:  robotsErr != nil,
	}
	if sitemapErr != nil {
		issues.SitemapError = sitemapErr.Error()
	}
	if robotsErr != nil {
		issues.RobotsError = robotsErr.Error()
	}
	if navErr != nil {
		issues.NavigationError = navErr.Error()
	}

	if len(allPages) == 0 {
		allPages = []model.Page{{URL: siteRoot, Type: model.PageHome, Level: 0, Source: model.SourceFallback}}
	}

	candidates := truncateForSelection(allPages)
	selection := selectPages(ctx, e.ai, siteRoot, candidates)

	return model.Plan{
		SiteRoot:  siteRoot,
		AllPages:  allPages,
		Sources:   sources,
		Issues:    issues,
		Selection: selection,
	}, nil
}

// runWithTimeout bounds a single source fetch to perSourceTimeout, matching
// the "per-source timeout (default 15s)" rule of spec §4.2. A source error
// is always non-fatal to Discover as a whole.
func (e *Engine) runWithTimeout(ctx context.Context, fn func(ctx context.Context) ([]model.Page, error)) ([]model.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
	defer cancel()

	type result struct {
		pages []model.Page
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		pages, err := fn(ctx)
		ch <- result{pages, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.pages, r.err
	}
}

// mergePages deduplicates across sources, with sitemap > robots > navigation
// precedence on ties, classifies each surviving page, and tallies per-source
// counts.
func mergePages(root *url.URL, sitemapPages, robotsPages, navPages []model.Page) ([]model.Page, model.SourceCounts) {
	var merged []model.Page
	seen := map[string]bool{}
	var counts model.SourceCounts

	add := func(pages []model.Page) {
		for _, p := range pages {
			canon, err := canonicalize(p.URL)
			if err != nil || seen[canon] {
				continue
			}
			seen[canon] = true

			u, err := url.Parse(canon)
			if err != nil {
				continue
			}

			page := model.Page{
				URL:    canon,
				Type:   classify(pathOf(u)),
				Level:  level(pathOf(u)),
				Source: p.Source,
			}
			merged = append(merged, page)

			switch p.Source {
			case model.SourceSitemap:
				counts.Sitemap++
			case model.SourceRobots:
				counts.Robots++
			case model.SourceNavigation:
				counts.Navigation++
			}
		}
	}

	// Precedence order: sitemap first, then robots, then navigation.
	add(sitemapPages)
	add(robotsPages)
	add(navPages)

	return merged, counts
}

func fallbackPlan(siteRoot string, rootErr error) model.Plan {
	return model.Plan{
		SiteRoot: siteRoot,
		AllPages: []model.Page{{URL: siteRoot, Type: model.PageHome, Level: 0, Source: model.SourceFallback}},
		Issues: model.DiscoveryIssues{
			CrawlFailures: []string{fmt.Sprintf("site root fetch failed after retry: %v", rootErr)},
		},
		Selection: model.Selection{Reasoning: "site root unreachable; discovery fell back to root page only"},
	}
}
