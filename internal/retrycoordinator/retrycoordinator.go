// Package retrycoordinator implements the RetryCoordinator of spec §4.5:
// an offline scan of BackupStore's failed-uploads/ directories that
// re-attempts each engine-appropriate remote upsert, invocable both from
// the CLI and once at server startup. It generalizes the
// "re-attempt all pending work for a now-reachable target" shape a
// scheduler's dispatch-pending pass already follows.
package retrycoordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/backupstore"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/remotestore"
)

// Coordinator holds the repositories each engine's retry upserts into.
type Coordinator struct {
	Backup    *backupstore.Store
	Prospects remotestore.ProspectRepository
	Leads     remotestore.LeadRepository
	Outreach  remotestore.OutreachVariantRepository
	Reports   remotestore.ReportRepository
	Logger    *zap.Logger
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Filter narrows the records a Run call touches.
type Filter struct {
	Engine      model.Engine // empty means all engines
	CompanySubstring string  // empty means no filter
	Limit       int          // 0 means unlimited
}

// Outcome describes what happened to a single failed record during Run.
type Outcome struct {
	Engine      model.Engine `json:"engine"`
	FileID      string       `json:"file_id"`
	CompanyName string       `json:"company_name"`
	Retried     bool         `json:"retried"` // false in dry-run mode
	Succeeded   bool         `json:"succeeded"`
	Error       string       `json:"error,omitempty"`
}

// Result summarizes a Run call.
type Result struct {
	DryRun     bool      `json:"dry_run"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Outcomes   []Outcome `json:"outcomes"`
}

var allEngines = []model.Engine{
	model.EngineProspecting,
	model.EngineAnalysis,
	model.EngineOutreach,
	model.EngineReports,
}

// ListFailed returns every failed-uploads/ record across the engines and
// filters Run would touch, without attempting any upsert. Run calls it to
// pick its records, in dry-run mode and otherwise.
func (c *Coordinator) ListFailed(f Filter) ([]backupstore.RecordRef, error) {
	engines := []model.Engine{f.Engine}
	if f.Engine == "" {
		engines = allEngines
	}

	var out []backupstore.RecordRef
	for _, engine := range engines {
		refs, err := c.Backup.ListFailed(engine)
		if err != nil {
			return nil, fmt.Errorf("retrycoordinator: list failed for %s: %w", engine, err)
		}
		for _, ref := range refs {
			if f.CompanySubstring != "" && !strings.Contains(strings.ToLower(ref.Record.CompanyName), strings.ToLower(f.CompanySubstring)) {
				continue
			}
			out = append(out, ref)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Run scans failed-uploads/ per Filter and re-attempts each engine's
// remote upsert. In dry-run mode it only enumerates intents — no file or
// remote-store write occurs.
func (c *Coordinator) Run(ctx context.Context, dryRun bool, f Filter) (Result, error) {
	refs, err := c.ListFailed(f)
	if err != nil {
		return Result{}, err
	}

	result := Result{DryRun: dryRun}
	for _, ref := range refs {
		result.Attempted++
		outcome := Outcome{
			Engine:      ref.Record.Engine,
			FileID:      ref.Record.FileID,
			CompanyName: ref.Record.CompanyName,
		}

		if dryRun {
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}
		outcome.Retried = true

		databaseID, err := c.upsert(ctx, ref.Record)
		if err != nil {
			outcome.Error = err.Error()
			result.Failed++
			if markErr := c.Backup.RetryFailed(ref.Path, err); markErr != nil {
				c.logger().Error("retry: failed to record re-attempt failure",
					zap.String("file_id", ref.Record.FileID), zap.Error(markErr))
			}
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		if _, err := c.Backup.RetryToUploaded(ref.Path, databaseID); err != nil {
			c.logger().Error("retry: upsert succeeded but failed to move record to leads/",
				zap.String("file_id", ref.Record.FileID), zap.Error(err))
		}
		outcome.Succeeded = true
		result.Succeeded++
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result, nil
}

// upsert dispatches record.Data to the engine-appropriate repository and
// returns the row's database ID on success.
func (c *Coordinator) upsert(ctx context.Context, record *model.BackupRecord) (string, error) {
	raw, err := json.Marshal(record.Data)
	if err != nil {
		return "", fmt.Errorf("re-marshal backup data: %w", err)
	}

	switch record.Engine {
	case model.EngineProspecting:
		var pd prospectBackupData
		if err := json.Unmarshal(raw, &pd); err != nil {
			return "", fmt.Errorf("decode prospect: %w", err)
		}
		p := remotestore.Prospect{
			GooglePlaceID: pd.GooglePlaceID,
			CompanyName:   pd.CompanyName,
			Website:       pd.Website,
			Industry:      pd.Industry,
			Location:      pd.Location,
			Verified:      pd.Verified,
		}
		if err := c.Prospects.Upsert(ctx, &p); err != nil {
			return "", err
		}
		return p.ID.String(), nil

	case model.EngineAnalysis:
		var l remotestore.Lead
		if err := decodeAnalysisData(raw, &l); err != nil {
			return "", fmt.Errorf("decode lead: %w", err)
		}
		if err := c.Leads.Upsert(ctx, &l); err != nil {
			return "", err
		}
		// Re-read by URL: on a conflicting upsert the existing row keeps its
		// original ID (OnConflict's DoUpdates excludes the primary key), so
		// l.ID may not be the persisted row's actual ID.
		persisted, err := c.Leads.GetByURL(ctx, l.URL)
		if err != nil {
			return "", fmt.Errorf("re-read lead after upsert: %w", err)
		}
		return persisted.ID.String(), nil

	case model.EngineOutreach:
		var v remotestore.OutreachVariant
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("decode outreach variant: %w", err)
		}
		if err := c.Outreach.Upsert(ctx, &v); err != nil {
			return "", err
		}
		return v.ID.String(), nil

	case model.EngineReports:
		var r remotestore.Report
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", fmt.Errorf("decode report: %w", err)
		}
		if err := c.Reports.Upsert(ctx, &r); err != nil {
			return "", err
		}
		return r.ID.String(), nil

	default:
		return "", fmt.Errorf("unknown engine %q", record.Engine)
	}
}

// prospectBackupData mirrors the JSON tags of orchestrator's
// verifiedCandidate (candidate + verified/verify_reason), since the
// prospecting backup stores that snake_case shape, not a remotestore.Prospect.
type prospectBackupData struct {
	CompanyName   string `json:"company_name"`
	Website       string `json:"website"`
	Industry      string `json:"industry"`
	Location      string `json:"location"`
	GooglePlaceID string `json:"google_place_id"`
	Verified      bool   `json:"verified"`
}

// analysisBackupData mirrors the map orchestrator.AnalyzeRunner saves,
// since the backup's data field stores the flat analyze-result shape, not
// a remotestore.Lead directly — their JSON-string-valued fields differ.
type analysisBackupData struct {
	URL          string         `json:"url"`
	CompanyName  string         `json:"company_name"`
	Industry     string         `json:"industry"`
	Grade        string         `json:"grade"`
	OverallScore int            `json:"overall_score"`
	Scores       map[string]*int `json:"scores"`
	Issues       []string       `json:"issues"`
	Strengths    []string       `json:"strengths"`
	Screenshots  map[string]string `json:"screenshots"`
	DiscoveryLog any            `json:"discovery_log"`
}

func decodeAnalysisData(raw []byte, l *remotestore.Lead) error {
	var d analysisBackupData
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}

	scoresJSON, _ := json.Marshal(d.Scores)
	issuesJSON, _ := json.Marshal(d.Issues)
	strengthsJSON, _ := json.Marshal(d.Strengths)
	screenshotsJSON, _ := json.Marshal(d.Screenshots)
	logJSON, _ := json.Marshal(d.DiscoveryLog)

	l.URL = d.URL
	l.CompanyName = d.CompanyName
	l.Industry = d.Industry
	l.Grade = d.Grade
	l.OverallScore = d.OverallScore
	l.Scores = string(scoresJSON)
	l.Issues = string(issuesJSON)
	l.Strengths = string(strengthsJSON)
	l.Screenshots = string(screenshotsJSON)
	l.DiscoveryLog = string(logJSON)
	return nil
}
