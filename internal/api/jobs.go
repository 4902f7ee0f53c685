package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
)

// stage identifies one of the four pipeline stages in URL paths
// (/api/<stage>-queue, /api/<stage>-status, /api/cancel-<stage>). It maps
// 1:1 to a model.WorkType but keeps the URL vocabulary spec-literal.
type stage string

const (
	stageProspect stage = "prospect"
	stageAnalyze  stage = "analyze"
	stageCompose  stage = "compose"
	stageGenerate stage = "generate"
)

var stageWorkType = map[stage]model.WorkType{
	stageProspect: model.WorkProspecting,
	stageAnalyze:  model.WorkAnalyzeURL,
	stageCompose:  model.WorkComposeOutreach,
	stageGenerate: model.WorkGenerateReport,
}

// AnalyzeURLFunc runs the analyze stage synchronously for the /api/analyze-url
// convenience route, bypassing the queue entirely.
type AnalyzeURLFunc func(ctx context.Context, payload map[string]any) (any, error)

// Handler holds the dependencies every route in this package needs.
type Handler struct {
	queue      *queue.Queue
	analyzeURL AnalyzeURLFunc
	logger     *zap.Logger
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	Ok(w, map[string]any{
		"status":    "ok",
		"service":   "leadforge-core",
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) enqueueProspect(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, stageProspect)
}

func (h *Handler) enqueueAnalyze(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, stageAnalyze)
}

func (h *Handler) enqueueCompose(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, stageCompose)
}

func (h *Handler) enqueueGenerate(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, stageGenerate)
}

// enqueue decodes the request body as the job payload, reads an optional
// top-level "priority" field, and enqueues a job of the stage's work_type.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, s stage) {
	var payload map[string]any
	if !decodeJSON(w, r, &payload) {
		return
	}

	priority := 0
	if p, ok := payload["priority"].(float64); ok {
		priority = int(p)
	}

	jobID, err := h.queue.Enqueue(stageWorkType[s], priority, payload)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	Created(w, map[string]any{"job_id": jobID})
}

// analyzeURLSync implements POST /api/analyze-url: the synchronous
// convenience path that runs the analyze stage inline and returns the full
// result instead of a job_id.
func (h *Handler) analyzeURLSync(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !decodeJSON(w, r, &payload) {
		return
	}

	if h.analyzeURL == nil {
		ErrInternal(w)
		return
	}

	result, err := h.analyzeURL(r.Context(), payload)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	Ok(w, result)
}

// status implements GET /api/<stage>-status?job_ids=a,b,c.
func (h *Handler) status(s stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		if raw := r.URL.Query().Get("job_ids"); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				id = strings.TrimSpace(id)
				if id != "" {
					ids = append(ids, id)
				}
			}
		}

		snapshots, histogram := h.queue.Status(stageWorkType[s], ids)
		Ok(w, map[string]any{
			"jobs": snapshots,
			"summary": map[string]any{
				"total":     histogram.Total,
				"queued":    histogram.Queued,
				"running":   histogram.Running,
				"completed": histogram.Completed,
				"failed":    histogram.Failed,
				"cancelled": histogram.Cancelled,
			},
		})
	}
}

// cancelRequest is the body of POST /api/cancel-<stage>: a batch of job IDs,
// per spec §6 — cancellation is always requested for a set, not a single job.
type cancelRequest struct {
	JobIDs []string `json:"job_ids"`
}

// cancel implements POST /api/cancel-<stage>. Each id in the batch is
// resolved independently: still-queued jobs are cancelled, unknown ids are
// reported not_found, and jobs already past queued (running or terminal)
// are reported already_started — exactly the three buckets spec §8 S5
// expects from a mixed batch.
func (h *Handler) cancel(s stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.JobIDs) == 0 {
			ErrBadRequest(w, "job_ids is required")
			return
		}

		cancelled := []string{}
		notFound := []string{}
		alreadyStarted := []string{}

		for _, jobID := range req.JobIDs {
			ok, err := h.queue.Cancel(jobID)
			if err != nil {
				if errtaxonomy.KindOf(err) == errtaxonomy.NotFound {
					notFound = append(notFound, jobID)
					continue
				}
				writeTaxonomyError(w, err)
				return
			}
			if ok {
				cancelled = append(cancelled, jobID)
				continue
			}
			alreadyStarted = append(alreadyStarted, jobID)
		}

		Ok(w, map[string]any{
			"cancelled":       cancelled,
			"not_found":       notFound,
			"already_started": alreadyStarted,
		})
	}
}

// writeTaxonomyError maps an errtaxonomy.AppError to its HTTP status code
// (spec §7), falling back to 500 for untagged errors.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var ae *errtaxonomy.AppError
	if errors.As(err, &ae) {
		errJSON(w, ae.StatusCode, ae.Message, string(ae.Kind))
		return
	}
	ErrInternal(w)
}
