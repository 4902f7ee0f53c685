package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/leadforge/core/internal/aiclient"
	"github.com/leadforge/core/internal/model"
)

// maxPagesForSelection is the "top 200" truncation spec §4.2 applies
// before handing the page list to the AI chooser.
const maxPagesForSelection = 200

// maxURLsPerDimension caps the AI chooser's output per dimension.
const maxURLsPerDimension = 5

// truncateForSelection ranks pages by the §4.2 heuristic (home first, then
// shallow level, then type priority) and returns at most
// maxPagesForSelection of them.
func truncateForSelection(pages []model.Page) []model.Page {
	ranked := make([]model.Page, len(pages))
	copy(ranked, pages)
	sort.SliceStable(ranked, func(i, j int) bool {
		hi, hj := ranked[i].Type == model.PageHome, ranked[j].Type == model.PageHome
		if hi != hj {
			return hi
		}
		if ranked[i].Level != ranked[j].Level {
			return ranked[i].Level < ranked[j].Level
		}
		return typePriority(ranked[i].Type) < typePriority(ranked[j].Type)
	})
	if len(ranked) > maxPagesForSelection {
		ranked = ranked[:maxPagesForSelection]
	}
	return ranked
}

// selectPages asks the model to choose up to maxURLsPerDimension URLs per
// analyzer dimension from candidates, defensively validating the response
// against candidates and falling back to a heuristic selection if the
// model call fails or returns nothing usable.
func selectPages(ctx context.Context, ai *aiclient.Client, siteRoot string, candidates []model.Page) model.Selection {
	if ai == nil {
		return heuristicSelection(candidates)
	}
	prompt := buildSelectionPrompt(siteRoot, candidates)

	raw, err := ai.GenerateJSON(ctx, prompt)
	if err != nil {
		return heuristicSelection(candidates)
	}

	sel, err := parseSelection(raw, candidates)
	if err != nil || selectionIsEmpty(sel) {
		return heuristicSelection(candidates)
	}
	return sel
}

func buildSelectionPrompt(siteRoot string, candidates []model.Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are choosing pages to analyze for %s.\n", siteRoot)
	sb.WriteString("Candidate pages (url, type, level):\n")
	for _, p := range candidates {
		fmt.Fprintf(&sb, "- %s (%s, level %d)\n", p.URL, p.Type, p.Level)
	}
	sb.WriteString("\nReturn strict JSON with this exact shape, choosing up to 5 URLs per dimension " +
		"(fewer is fine), only using URLs from the candidate list above:\n" +
		`{"seo": [...], "content": [...], "visual": [...], "social": [...], "reasoning": "..."}` + "\n")
	return sb.String()
}

// parseSelection unmarshals raw into a model.Selection, dropping any URL
// not present in candidates.
func parseSelection(raw string, candidates []model.Page) (model.Selection, error) {
	var sel model.Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return model.Selection{}, fmt.Errorf("discovery: parse ai selection: %w", err)
	}

	valid := make(map[string]bool, len(candidates))
	for _, p := range candidates {
		valid[p.URL] = true
	}

	sel.SEO = filterValid(sel.SEO, valid)
	sel.Content = filterValid(sel.Content, valid)
	sel.Visual = filterValid(sel.Visual, valid)
	sel.Social = filterValid(sel.Social, valid)
	return sel, nil
}

func filterValid(urls []string, valid map[string]bool) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if valid[u] {
			out = append(out, u)
		}
		if len(out) >= maxURLsPerDimension {
			break
		}
	}
	return out
}

func selectionIsEmpty(sel model.Selection) bool {
	return len(sel.SEO) == 0 && len(sel.Content) == 0 && len(sel.Visual) == 0 && len(sel.Social) == 0
}

// heuristicSelection builds a deterministic fallback selection: the same
// ranked candidates, truncated per dimension, used identically across all
// four dimensions since there is no model reasoning to differentiate them.
func heuristicSelection(candidates []model.Page) model.Selection {
	urls := make([]string, 0, maxURLsPerDimension)
	for _, p := range candidates {
		urls = append(urls, p.URL)
		if len(urls) >= maxURLsPerDimension {
			break
		}
	}
	return model.Selection{
		SEO:       urls,
		Content:   urls,
		Visual:    urls,
		Social:    urls,
		Reasoning: "heuristic fallback: AI selection unavailable, used top-ranked candidate pages",
	}
}
