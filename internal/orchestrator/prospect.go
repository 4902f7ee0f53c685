package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/remotestore"
)

// candidate is one company surfaced by a ProspectSource, before natural-key
// dedup or verification.
type candidate struct {
	CompanyName   string `json:"company_name"`
	Website       string `json:"website"`
	Industry      string `json:"industry"`
	Location      string `json:"location"`
	GooglePlaceID string `json:"google_place_id"`
}

// verifiedCandidate augments a candidate with the outcome of the
// reachability/site-not-parked/industry-match checks.
type verifiedCandidate struct {
	candidate
	Verified bool   `json:"verified"`
	Reason   string `json:"verify_reason,omitempty"`
}

// ProspectSource queries an external discovery adapter for companies
// matching a brief. No pack example wires a Google Places/Clearbit-style
// SDK (see DESIGN.md), so the default source brainstorms candidates
// through the same AI client the analyze stage uses.
type ProspectSource interface {
	Search(ctx context.Context, brief string, count int) ([]candidate, error)
}

type aiProspectSource struct{ d *Deps }

func (s aiProspectSource) Search(ctx context.Context, brief string, count int) ([]candidate, error) {
	if s.d.AI == nil {
		return nil, fmt.Errorf("no AI client configured")
	}
	if err := s.d.RateLimit.Wait(ctx, "prospecting", aiProvider); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"List %d real companies matching this ideal-customer profile: %q.\n"+
			"Return strict JSON only: an array of objects with keys "+
			`company_name, website, industry, location.`+"\n"+
			"Use the company's actual public website, no placeholders.",
		count, brief,
	)

	raw, err := s.d.AI.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var out []candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unparseable prospect list: %w", err)
	}
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// ProspectRunner builds the prospecting stage runner (spec §4.4 "Prospect
// runner specifics"): queries a discovery adapter, verifies each candidate,
// and upserts one Prospect row per candidate.
func ProspectRunner(d *Deps) queue.RunnerFunc {
	source := ProspectSource(aiProspectSource{d: d})

	return func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
		brief, err := decodeStringField(payload, "icp_brief")
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "invalid prospecting payload")
		}
		count := decodeOptionalInt(payload, "count", 10)
		if count <= 0 || count > 200 {
			return nil, errtaxonomy.New(errtaxonomy.InvalidInput, "count must be between 1 and 200")
		}

		report(0, count, "searching for candidates")
		candidates, err := source.Search(ctx, brief, count)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Transient, "candidate search failed")
		}

		verified := verifyCandidates(ctx, d, candidates, report)

		var saved []map[string]any
		for _, vc := range verified {
			if ctx.Err() != nil {
				return nil, errtaxonomy.Wrap(ctx.Err(), errtaxonomy.Cancelled, "prospecting cancelled")
			}

			meta := model.Meta{CompanyName: vc.CompanyName, URL: vc.Website, Industry: vc.Industry}
			path, err := d.Backup.Save(model.EngineProspecting, vc, meta)
			if err != nil {
				return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "backup save failed")
			}

			p := &remotestore.Prospect{
				GooglePlaceID: vc.GooglePlaceID,
				CompanyName:   vc.CompanyName,
				Website:       vc.Website,
				Industry:      vc.Industry,
				Location:      vc.Location,
				Verified:      vc.Verified,
			}
			if err := d.Prospects.Upsert(ctx, p); err != nil {
				if _, mfErr := d.Backup.MarkFailed(path, err); mfErr != nil {
					d.logger().Error("mark failed also failed", zap.Error(mfErr))
				}
				continue // one bad candidate does not fail the whole batch
			}
			if err := d.Backup.MarkUploaded(path, p.ID.String()); err != nil {
				d.logger().Error("mark uploaded failed", zap.Error(err))
			}

			saved = append(saved, map[string]any{
				"prospect_id":  p.ID.String(),
				"company_name": vc.CompanyName,
				"website":      vc.Website,
				"verified":     vc.Verified,
			})
		}

		return map[string]any{"prospects": saved, "requested": count, "found": len(candidates)}, nil
	}
}

// verifyCandidates runs reachability/site-not-parked/industry checks over
// candidates concurrently, bounded by Deps.ProspectVerifyConcurrency.
func verifyCandidates(ctx context.Context, d *Deps, candidates []candidate, report queue.ProgressFunc) []verifiedCandidate {
	n := d.ProspectVerifyConcurrency
	if n <= 0 {
		n = 1
	}

	sem := make(chan struct{}, n)
	out := make([]verifiedCandidate, len(candidates))
	var wg sync.WaitGroup
	var done int
	var mu sync.Mutex

	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			verified, reason := verifyCandidate(ctx, d, c)
			out[i] = verifiedCandidate{candidate: c, Verified: verified, Reason: reason}

			mu.Lock()
			done++
			report(done, len(candidates), "verifying "+c.CompanyName)
			mu.Unlock()
		}(i, c)
	}
	wg.Wait()
	return out
}

// verifyCandidate checks reachability, that the site isn't parked (a
// generic registrar placeholder page), and a loose industry-keyword match.
func verifyCandidate(ctx context.Context, d *Deps, c candidate) (bool, string) {
	if c.Website == "" {
		return false, "no website"
	}

	body, err := d.Fetcher.Get(ctx, c.Website)
	if err != nil {
		return false, fmt.Sprintf("unreachable: %v", err)
	}

	lower := strings.ToLower(string(body))
	for _, marker := range []string{"domain is for sale", "this domain is parked", "buy this domain"} {
		if strings.Contains(lower, marker) {
			return false, "site appears parked"
		}
	}

	if c.Industry != "" && !strings.Contains(lower, strings.ToLower(c.Industry)) {
		// A loose heuristic, not a hard rejection — industry keywords
		// frequently live in pages the homepage doesn't show.
		return true, "reachable; industry keyword not found on homepage"
	}

	return true, ""
}
