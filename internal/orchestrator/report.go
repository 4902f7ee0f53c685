package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/remotestore"
)

// reportSections is the fixed section order spec §4.4 requires ("section
// order fixed"): overview, scores, issues, strengths, recommendations.
var reportSections = []string{"overview", "scores", "issues", "strengths", "recommendations"}

// ReportRunner builds the generate_report stage runner (spec §4.4 "Report
// runner specifics"): assembles a deterministic document from the lead's
// analysis record, renders it, uploads the blob, and writes a metadata row.
func ReportRunner(d *Deps) queue.RunnerFunc {
	return func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
		leadIDStr, err := decodeStringField(payload, "lead_id")
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "invalid generate_report payload")
		}
		leadID, err := uuid.Parse(leadIDStr)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.InvalidInput, "lead_id must be a UUID")
		}
		format := decodeOptionalString(payload, "format")
		if format == "" {
			format = "markdown"
		}
		if format != "markdown" && format != "html" {
			return nil, errtaxonomy.Newf(errtaxonomy.InvalidInput, "unsupported report format %q", format)
		}

		report(0, 3, "loading lead")
		lead, err := d.Leads.GetByID(ctx, leadID)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.NotFound, "lead not found")
		}

		report(1, 3, "rendering document")
		body, err := renderReport(lead, format)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "report render failed")
		}

		report(2, 3, "uploading blob")
		blobURL, err := d.Blobs.Put(leadIDStr, format, []byte(body))
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "blob upload failed")
		}

		r := &remotestore.Report{
			LeadID:      leadID,
			Format:      format,
			BlobURL:     blobURL,
			GeneratedAt: time.Now().UTC(),
		}

		meta := model.Meta{CompanyName: lead.CompanyName, URL: lead.URL, Grade: lead.Grade, Industry: lead.Industry}
		path, err := d.Backup.Save(model.EngineReports, r, meta)
		if err != nil {
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Fatal, "backup save failed")
		}

		if err := d.Reports.Upsert(ctx, r); err != nil {
			if _, mfErr := d.Backup.MarkFailed(path, err); mfErr != nil {
				d.logger().Error("mark failed also failed", zap.Error(mfErr))
			}
			return nil, errtaxonomy.Wrap(err, errtaxonomy.Transient, "report upsert failed")
		}
		if err := d.Backup.MarkUploaded(path, r.ID.String()); err != nil {
			d.logger().Error("mark uploaded failed", zap.Error(err))
		}

		report(3, 3, "done")
		return map[string]any{
			"report_id": r.ID.String(),
			"lead_id":   leadIDStr,
			"format":    format,
			"blob_url":  blobURL,
		}, nil
	}
}

func renderReport(lead *remotestore.Lead, format string) (string, error) {
	var scores map[string]*int
	_ = json.Unmarshal([]byte(lead.Scores), &scores)
	var issues []string
	_ = json.Unmarshal([]byte(lead.Issues), &issues)
	var strengths []string
	_ = json.Unmarshal([]byte(lead.Strengths), &strengths)

	var sb strings.Builder
	for _, section := range reportSections {
		switch section {
		case "overview":
			writeSection(&sb, format, "Overview", fmt.Sprintf(
				"%s (%s)\nGrade: %s — Overall score: %d/100",
				lead.CompanyName, lead.URL, lead.Grade, lead.OverallScore,
			))
		case "scores":
			dims := make([]string, 0, len(scores))
			for dim := range scores {
				dims = append(dims, dim)
			}
			sort.Strings(dims)
			var lines []string
			for _, dim := range dims {
				s := scores[dim]
				if s == nil {
					lines = append(lines, fmt.Sprintf("%s: not scored", dim))
					continue
				}
				lines = append(lines, fmt.Sprintf("%s: %d/100", dim, *s))
			}
			writeSection(&sb, format, "Scores", strings.Join(lines, "\n"))
		case "issues":
			writeSection(&sb, format, "Issues", bulletList(issues))
		case "strengths":
			writeSection(&sb, format, "Strengths", bulletList(strengths))
		case "recommendations":
			writeSection(&sb, format, "Recommendations", recommendationsFor(issues))
		}
	}
	return sb.String(), nil
}

func writeSection(sb *strings.Builder, format, title, body string) {
	if format == "html" {
		sb.WriteString(fmt.Sprintf("<h2>%s</h2>\n<p>%s</p>\n", title, strings.ReplaceAll(body, "\n", "<br>")))
		return
	}
	sb.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", title, body))
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// recommendationsFor turns recorded issues into a flat action list — a
// deterministic restatement, not a fresh AI call, so report generation
// never depends on the rate limiter or network.
func recommendationsFor(issues []string) string {
	if len(issues) == 0 {
		return "No outstanding issues recorded."
	}
	var sb strings.Builder
	for _, issue := range issues {
		sb.WriteString("- Address: ")
		sb.WriteString(issue)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
