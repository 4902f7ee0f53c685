package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/remotestore"
)

// analyzeDimensions are the six AI-scored axes of spec §4.4's analyze
// runner — distinct from model.Dimension, which only buckets the four
// page-selection categories DiscoveryEngine chooses pages for. Each
// dimension here maps onto one of those four selections (a visual_desktop
// score is still computed from the "visual" page selection, for instance).
var analyzeDimensions = []struct {
	key        string
	selection  model.Dimension
	focus      string
}{
	{"seo", model.DimensionSEO, "on-page SEO signals: titles, meta descriptions, heading structure, internal linking"},
	{"content", model.DimensionContent, "content quality: clarity, value proposition, completeness, freshness"},
	{"visual_desktop", model.DimensionVisual, "desktop visual design: layout, typography, whitespace, brand consistency"},
	{"visual_mobile", model.DimensionVisual, "mobile responsiveness: viewport handling, tap targets, readability at small width"},
	{"social", model.DimensionSocial, "social presence: linked profiles, share surfaces, social proof"},
	{"accessibility", model.DimensionContent, "accessibility: alt text, color contrast, semantic markup, keyboard navigation"},
}

const aiCallTimeout = 60 * time.Second

// dimensionResult is the shape each per-dimension AI prompt is asked to
// return.
type dimensionResult struct {
	Score     int      `json:"score"`
	Issues    []string `json:"issues"`
	Strengths []string `json:"strengths"`
}

// AnalyzeRunner builds the analyze_url stage runner (spec §4.4 "Analyze
// runner specifics"): DiscoveryEngine, then a per-dimension AI fan-out,
// merged into a single Lead record.
func AnalyzeRunner(d *Deps) queue.RunnerFunc {
	return func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
		siteURL, err := decodeStringField(payload, "url")
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "invalid analyze_url payload")
		}

		report(0, len(analyzeDimensions)+2, "discovering pages")
		plan, err := d.Discovery.Discover(ctx, siteURL)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "discovery failed")
		}

		scores := make(map[string]*int, len(analyzeDimensions))
		issuesByDim := map[string][]string{}
		var strengths []string
		screenshots := map[string]string{}

		for i, dim := range analyzeDimensions {
			if ctx.Err() != nil {
				return nil, errtaxonomy.Wrap(ctx.Err(), errtaxonomy.Cancelled, "analyze cancelled")
			}
			report(i+1, len(analyzeDimensions)+2, "scoring "+dim.key)

			urls := plan.Selection.ForDimension(dim.selection)
			if len(urls) == 0 {
				urls = []string{plan.SiteRoot}
			}

			res, err := scoreDimension(ctx, d, dim.key, dim.focus, urls)
			if err != nil {
				d.logger().Warn("dimension scoring failed, recording as issue",
					zap.String("dimension", dim.key), zap.Error(err))
				scores[dim.key] = nil // partial-failure semantics: failed dimension is null, job still succeeds
				issuesByDim[dim.key] = []string{fmt.Sprintf("%s: scoring failed: %v", dim.key, err)}
				continue
			}
			scores[dim.key] = &res.Score
			if len(res.Issues) > 0 {
				issuesByDim[dim.key] = res.Issues
			}
			strengths = append(strengths, res.Strengths...)
			if len(urls) > 0 {
				screenshots[dim.key] = urls[0]
			}
		}

		overall := averageScores(scores)
		grade := Grade(overall)

		report(len(analyzeDimensions)+1, len(analyzeDimensions)+2, "saving backup")

		companyName := decodeOptionalString(payload, "company_name")
		if companyName == "" {
			companyName = companyNameFromURL(siteURL)
		}
		industry := decodeOptionalString(payload, "industry")

		allIssues := flattenIssues(issuesByDim)
		discoveryLog := buildDiscoveryLog(plan, scores)
		quickWins := quickWinsFor(scores, issuesByDim)

		result := map[string]any{
			"url":           siteURL,
			"company_name":  companyName,
			"industry":      industry,
			"grade":         grade,
			"overall_score": overall,
			"scores":        scores,
			"issues":        allIssues,
			"strengths":     strengths,
			"quick_wins":    quickWins,
			"screenshots":   screenshots,
			"discovery_log": discoveryLog,
		}

		meta := model.Meta{
			CompanyName: companyName,
			URL:         siteURL,
			Grade:       grade,
			Score:       float64(overall),
			Industry:    industry,
		}
		path, err := d.Backup.Save(model.EngineAnalysis, result, meta)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "backup save failed")
		}

		scoresJSON, _ := json.Marshal(scores)
		issuesJSON, _ := json.Marshal(allIssues)
		strengthsJSON, _ := json.Marshal(strengths)
		screenshotsJSON, _ := json.Marshal(screenshots)
		logJSON, _ := json.Marshal(discoveryLog)

		lead := &remotestore.Lead{
			URL:          siteURL,
			CompanyName:  companyName,
			Industry:     industry,
			Grade:        grade,
			OverallScore: overall,
			Scores:       string(scoresJSON),
			Issues:       string(issuesJSON),
			Strengths:    string(strengthsJSON),
			Screenshots:  string(screenshotsJSON),
			DiscoveryLog: string(logJSON),
		}

		report(len(analyzeDimensions)+2, len(analyzeDimensions)+2, "upserting lead")
		if err := d.Leads.Upsert(ctx, lead); err != nil {
			if _, mfErr := d.Backup.MarkFailed(path, err); mfErr != nil {
				d.logger().Error("mark failed also failed", zap.Error(mfErr))
			}
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Transient, "lead upsert failed")
		}

		// Re-read by URL: on a conflicting upsert GORM's OnConflict clause
		// excludes the primary key from DoUpdates, so lead.ID may still hold
		// the ID this process assigned in BeforeCreate rather than the
		// existing row's actual ID.
		persisted, err := d.Leads.GetByURL(ctx, siteURL)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Transient, "lead re-read after upsert failed")
		}

		if err := d.Backup.MarkUploaded(path, persisted.ID.String()); err != nil {
			d.logger().Error("mark uploaded failed", zap.Error(err))
		}

		result["lead_id"] = persisted.ID.String()
		return result, nil
	}
}

func scoreDimension(ctx context.Context, d *Deps, key, focus string, urls []string) (*dimensionResult, error) {
	if d.AI == nil {
		return nil, fmt.Errorf("no AI client configured")
	}
	if err := d.RateLimit.Wait(ctx, "analyze_url", aiProvider); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Evaluate %s for the following dimension: %s.\n"+
			"Return strict JSON only, matching this shape exactly:\n"+
			`{"score": <0-100 integer>, "issues": ["..."], "strengths": ["..."]}`+"\n"+
			"No prose outside the JSON object.",
		strings.Join(urls, ", "), focus,
	)

	raw, err := d.AI.GenerateWithURLContext(callCtx, prompt, urls...)
	if err != nil {
		return nil, err
	}

	var res dimensionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("unparseable model response for %s: %w", key, err)
	}
	if res.Score < 0 {
		res.Score = 0
	}
	if res.Score > 100 {
		res.Score = 100
	}
	return &res, nil
}

func averageScores(scores map[string]*int) int {
	sum, n := 0, 0
	for _, s := range scores {
		if s == nil {
			continue
		}
		sum += *s
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func flattenIssues(byDim map[string][]string) []string {
	var out []string
	for _, dim := range analyzeDimensions {
		out = append(out, byDim[dim.key]...)
	}
	return out
}

// quickWinsFor derives the quick_wins array from the lowest-scoring
// dimensions, the same deterministic-restatement approach report.go's
// recommendationsFor uses for recommendations — no fresh AI call, just the
// issues already recorded for each below-threshold dimension.
const quickWinScoreThreshold = 60

func quickWinsFor(scores map[string]*int, issuesByDim map[string][]string) []string {
	var out []string
	for _, dim := range analyzeDimensions {
		score := scores[dim.key]
		if score == nil || *score >= quickWinScoreThreshold {
			continue
		}
		issues := issuesByDim[dim.key]
		if len(issues) == 0 {
			out = append(out, fmt.Sprintf("%s: improve score (currently %d/100)", dim.key, *score))
			continue
		}
		out = append(out, issues[0])
	}
	return out
}

// companyNameFromURL derives a display name from the host when the caller
// doesn't supply one explicitly, mirroring backupstore's own host-from-URL
// fallback for filenames.
func companyNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := strings.TrimPrefix(u.Host, "www.")
	return host
}

// buildDiscoveryLog assembles the discovery_log sections named in spec §6:
// summary, all_pages, total_pages_count, ai_selection, discovery_issues,
// critical_findings, technical_details, analysis_metrics, logged_at.
func buildDiscoveryLog(plan model.Plan, scores map[string]*int) map[string]any {
	var critical []string
	for dim, score := range scores {
		if score != nil && *score < 40 {
			critical = append(critical, fmt.Sprintf("%s scored %d (critical)", dim, *score))
		}
	}

	return map[string]any{
		"summary":           fmt.Sprintf("analyzed %d pages from %s", len(plan.AllPages), plan.SiteRoot),
		"all_pages":         plan.AllPages,
		"total_pages_count": len(plan.AllPages),
		"ai_selection": map[string]any{
			"reasoning":      plan.Selection.Reasoning,
			"selected_pages": plan.Selection,
			"pages_analyzed": plan.AllPages,
		},
		"discovery_issues": plan.Issues,
		"critical_findings": critical,
		"technical_details": map[string]any{
			"sources": plan.Sources,
		},
		"analysis_metrics": map[string]any{
			"dimensions_scored": len(scores),
		},
		"logged_at": time.Now().UTC(),
	}
}
