package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/remotestore"
)

// defaultPlatforms is used when the payload doesn't list platforms
// explicitly.
var defaultPlatforms = []string{"email", "linkedin"}

// bannedPhrases are stock high-pressure phrases the quality ruleset
// rejects outright, regardless of length.
var bannedPhrases = []string{
	"act now",
	"limited time offer",
	"dear sir or madam",
	"to whom it may concern",
}

const (
	minBodyLength = 40
	maxBodyLength = 2000
)

type variantDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// OutreachRunner builds the compose_outreach stage runner (spec §4.4
// "Outreach runner specifics"): per-platform message variants, each run
// through a quality ruleset, with both accepted and rejected variants
// recorded.
func OutreachRunner(d *Deps) queue.RunnerFunc {
	return func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
		leadIDStr, err := decodeStringField(payload, "lead_id")
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "invalid compose_outreach payload")
		}
		leadID, err := uuid.Parse(leadIDStr)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "lead_id must be a UUID")
		}

		lead, err := d.Leads.GetByID(ctx, leadID)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.NotFound, "lead not found")
		}

		platforms := decodePlatforms(payload)
		// Open question resolution: options.generate_variants, when present,
		// overrides the top-level field of the same name.
		generate := decodeOptionalBool(payload, "generate_variants", true)
		if opts, ok := payload.(map[string]any)["options"].(map[string]any); ok {
			if v, ok := opts["generate_variants"].(bool); ok {
				generate = v
			}
		}
		if !generate {
			return map[string]any{"lead_id": leadIDStr, "variants": []any{}, "skipped": true}, nil
		}

		var results []map[string]any
		for i, platform := range platforms {
			if ctx.Err() != nil {
				return nil, errtaxonomy.Wrap(ctx.Err(), errtaxonomy.Cancelled, "outreach cancelled")
			}
			report(i, len(platforms), "composing "+platform)

			draft, err := composeVariant(ctx, d, lead, platform)
			accepted, reason := true, ""
			if err != nil {
				accepted, reason = false, err.Error()
				draft = variantDraft{}
			} else {
				accepted, reason = validateVariant(draft)
			}

			v := &remotestore.OutreachVariant{
				LeadID:       leadID,
				Platform:     platform,
				Subject:      draft.Subject,
				Body:         draft.Body,
				Accepted:     accepted,
				RejectReason: reason,
			}

			meta := model.Meta{CompanyName: lead.CompanyName, URL: lead.URL}
			path, err := d.Backup.Save(model.EngineOutreach, v, meta)
			if err != nil {
				return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "backup save failed")
			}

			if err := d.Outreach.Upsert(ctx, v); err != nil {
				if _, mfErr := d.Backup.MarkFailed(path, err); mfErr != nil {
					d.logger().Error("mark failed also failed", zap.Error(mfErr))
				}
				return nil, errtaxonomy.Wrap(err, errtaxonomy.Transient, "outreach variant upsert failed")
			}
			if err := d.Backup.MarkUploaded(path, v.ID.String()); err != nil {
				d.logger().Error("mark uploaded failed", zap.Error(err))
			}

			results = append(results, map[string]any{
				"variant_id": v.ID.String(),
				"platform":   platform,
				"accepted":   accepted,
				"reject_reason": reason,
			})
		}

		return map[string]any{"lead_id": leadIDStr, "variants": results}, nil
	}
}

func decodePlatforms(payload any) []string {
	m, ok := payload.(map[string]any)
	if !ok {
		return defaultPlatforms
	}
	raw, ok := m["platforms"].([]any)
	if !ok || len(raw) == 0 {
		return defaultPlatforms
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultPlatforms
	}
	return out
}

func composeVariant(ctx context.Context, d *Deps, lead *remotestore.Lead, platform string) (variantDraft, error) {
	if d.AI == nil {
		return variantDraft{}, fmt.Errorf("no AI client configured")
	}
	if err := d.RateLimit.Wait(ctx, "compose_outreach", aiProvider); err != nil {
		return variantDraft{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Write a %s outreach message to %s (%s, grade %s) based on a recent "+
			"website audit. Be specific, not generic. No banned phrases like "+
			"\"act now\" or \"to whom it may concern\". Keep the body between "+
			"%d and %d characters.\n"+
			"Return strict JSON only: {\"subject\": \"...\", \"body\": \"...\"}. "+
			"subject may be empty for non-email platforms.",
		platform, lead.CompanyName, lead.Industry, lead.Grade, minBodyLength, maxBodyLength,
	)

	raw, err := d.AI.GenerateJSON(callCtx, prompt)
	if err != nil {
		return variantDraft{}, err
	}

	var draft variantDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return variantDraft{}, fmt.Errorf("unparseable variant draft: %w", err)
	}
	return draft, nil
}

// validateVariant implements the quality ruleset: banned phrases,
// placeholder leakage, and length bounds.
func validateVariant(d variantDraft) (bool, string) {
	if strings.TrimSpace(d.Body) == "" {
		return false, "empty body"
	}
	if len(d.Body) < minBodyLength {
		return false, fmt.Sprintf("body shorter than %d characters", minBodyLength)
	}
	if len(d.Body) > maxBodyLength {
		return false, fmt.Sprintf("body longer than %d characters", maxBodyLength)
	}

	lower := strings.ToLower(d.Body)
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			return false, "contains banned phrase: " + phrase
		}
	}

	for _, leak := range []string{"{{", "}}", "[object object]"} {
		if strings.Contains(lower, leak) {
			return false, "placeholder leakage: " + leak
		}
	}

	return true, ""
}
