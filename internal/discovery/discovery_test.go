package discovery

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/core/internal/model"
)

func TestCanonicalizeDropsFragmentAndTrailingSlash(t *testing.T) {
	got, err := canonicalize("HTTPS://Example.com/About/#team")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/About", got)
}

func TestCanonicalizeKeepsQueryOnlyForRootPath(t *testing.T) {
	root, err := canonicalize("https://example.com/?utm=1")
	require.NoError(t, err)
	assert.Contains(t, root, "utm=1")

	sub, err := canonicalize("https://example.com/about?utm=1")
	require.NoError(t, err)
	assert.NotContains(t, sub, "utm=1")
}

func TestClassifyMatchesPathPatterns(t *testing.T) {
	cases := map[string]model.PageType{
		"/":               model.PageHome,
		"/about-us":       model.PageAbout,
		"/contact":        model.PageContact,
		"/blog/post-1":    model.PageBlog,
		"/services":       model.PageServices,
		"/service/design": model.PageServices,
		"/products":       model.PageProducts,
		"/product/widget": model.PageProducts,
		"/pricing":        model.PagePricing,
		"/careers":        model.PageOther,
	}
	for path, want := range cases {
		assert.Equal(t, want, classify(path), "path %s", path)
	}
}

func TestLevelCountsNonEmptySegments(t *testing.T) {
	assert.Equal(t, 0, level("/"))
	assert.Equal(t, 1, level("/about"))
	assert.Equal(t, 2, level("/blog/post-1"))
}

func TestHeuristicSelectionCapsAtFivePerDimension(t *testing.T) {
	var pages []model.Page
	for i := 0; i < 20; i++ {
		pages = append(pages, model.Page{URL: "https://example.com/p" + string(rune('a'+i))})
	}
	sel := heuristicSelection(pages)
	assert.Len(t, sel.SEO, 5)
	assert.Len(t, sel.Content, 5)
}

func TestParseSelectionDropsURLsNotInCandidates(t *testing.T) {
	candidates := []model.Page{{URL: "https://example.com/"}, {URL: "https://example.com/about"}}
	raw := `{"seo": ["https://example.com/", "https://evil.test/"], "content": [], "visual": [], "social": [], "reasoning": "r"}`

	sel, err := parseSelection(raw, candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/"}, sel.SEO)
}

func TestSelectionIsEmptyDetectsAllBlankDimensions(t *testing.T) {
	assert.True(t, selectionIsEmpty(model.Selection{}))
	assert.False(t, selectionIsEmpty(model.Selection{SEO: []string{"x"}}))
}

func TestMergePagesDeduplicatesAcrossSourcesWithSitemapPrecedence(t *testing.T) {
	root, err := url.Parse("https://example.com")
	require.NoError(t, err)
	sitemap := []model.Page{{URL: "https://example.com/about", Source: model.SourceSitemap}}
	nav := []model.Page{{URL: "https://example.com/about", Source: model.SourceNavigation}, {URL: "https://example.com/contact", Source: model.SourceNavigation}}

	merged, counts := mergePages(root, sitemap, nil, nav)

	require.Len(t, merged, 2)
	assert.Equal(t, 1, counts.Sitemap)
	assert.Equal(t, 1, counts.Navigation)

	for _, p := range merged {
		if p.URL == "https://example.com/about" {
			assert.Equal(t, model.SourceSitemap, p.Source, "sitemap must win over navigation on ties")
		}
	}
}
