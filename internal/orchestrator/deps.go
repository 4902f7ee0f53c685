// Package orchestrator implements the PipelineOrchestrator: one stage
// runner for each of four work_types (analyze_prospect has none; see
// Deps.ProspectVerifyConcurrency), each following the same parse -> work -> backup ->
// remote-upsert -> mark shape (spec §4.4). Runners are plain
// queue.RunnerFunc values so they plug into internal/queue without either
// package depending on the other's internals.
package orchestrator

import (
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/aiclient"
	"github.com/leadforge/core/internal/backupstore"
	"github.com/leadforge/core/internal/discovery"
	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/ratelimit"
	"github.com/leadforge/core/internal/remotestore"
)

// aiProvider is the rate-limiter provider key used for every Gemini call
// made by the runners in this package.
const aiProvider = "gemini"

// Deps carries every collaborator a stage runner needs. It is constructed
// once in cmd/server/main.go and handed down explicitly, the same "accept a
// handle, don't reach for a singleton" discipline the backup root and the
// agent manager already follow.
type Deps struct {
	Backup     *backupstore.Store
	Discovery  *discovery.Engine
	AI         *aiclient.Client // may be nil; runners degrade to heuristics
	RateLimit  *ratelimit.Registry
	Blobs      *BlobStore
	Fetcher    *httpfetch.Fetcher

	Prospects remotestore.ProspectRepository
	Leads     remotestore.LeadRepository
	Outreach  remotestore.OutreachVariantRepository
	Reports   remotestore.ReportRepository

	// ProspectVerifyConcurrency bounds the per-candidate verification
	// fan-out inside ProspectRunner. It reuses the analyze_prospect pool
	// size from config rather than introducing a sixth queue work_type,
	// since verification never needs its own ready-queue or status route.
	ProspectVerifyConcurrency int

	Logger *zap.Logger
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Runners returns every stage runner keyed by the work_type it serves, for
// a single q.RegisterRunner loop in cmd/server/main.go.
func Runners(d *Deps) map[model.WorkType]queue.RunnerFunc {
	return map[model.WorkType]queue.RunnerFunc{
		model.WorkProspecting:     ProspectRunner(d),
		model.WorkAnalyzeURL:      AnalyzeRunner(d),
		model.WorkComposeOutreach: OutreachRunner(d),
		model.WorkGenerateReport:  ReportRunner(d),
	}
}
