package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/queue"
)

func newTestRouter(t *testing.T) (http.Handler, *queue.Queue) {
	t.Helper()
	q := queue.New(queue.Config{WALDir: t.TempDir()}, zap.NewNop())

	for _, wt := range []model.WorkType{model.WorkProspecting, model.WorkAnalyzeURL, model.WorkComposeOutreach, model.WorkGenerateReport} {
		require.NoError(t, q.RegisterRunner(wt, func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
			return map[string]any{"ok": true}, nil
		}, 1, time.Second))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Shutdown)

	analyzeURL := func(ctx context.Context, payload map[string]any) (any, error) {
		return map[string]any{"url": payload["url"], "grade": "B"}, nil
	}

	return NewRouter(RouterConfig{Queue: q, AnalyzeURL: analyzeURL, Logger: zap.NewNop()}), q
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOk(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	require.Equal(t, "ok", data["status"])
}

func TestEnqueueAnalyzeQueueReturnsJobID(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/analyze-queue", map[string]any{"url": "https://example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	require.NotEmpty(t, data["job_id"])
}

func TestAnalyzeURLSyncReturnsResultWithoutJobID(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/analyze-url", map[string]any{"url": "https://example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	require.Equal(t, "https://example.com", data["url"])
	require.Equal(t, "B", data["grade"])
}

func TestStatusAndCancelRoundTrip(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/prospect-queue", map[string]any{"icp_brief": "b2b saas"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	jobID := created["data"].(map[string]any)["job_id"].(string)

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/api/prospect-status?job_ids="+jobID, nil)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		data := body["data"].(map[string]any)
		jobs := data["jobs"].([]any)
		if len(jobs) != 1 {
			return false
		}
		return jobs[0].(map[string]any)["state"] == "completed"
	}, time.Second, 10*time.Millisecond)

	rec = doJSON(t, h, http.MethodPost, "/api/cancel-prospect", map[string]any{"job_ids": []string{"does-not-exist"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelBody map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelBody))
	data := cancelBody["data"].(map[string]any)
	require.ElementsMatch(t, []any{"does-not-exist"}, data["not_found"])
	require.Empty(t, data["cancelled"])
	require.Empty(t, data["already_started"])
}

// TestCancelBatchMixedOutcomes exercises spec §8 S5: enqueue two
// prospecting jobs, cancel one directly so it is already terminal, then
// cancel a batch mixing the still-queued job, the terminal job, and an
// unknown id — each resolves to its own bucket independently.
func TestCancelBatchMixedOutcomes(t *testing.T) {
	q := queue.New(queue.Config{WALDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, q.RegisterRunner(model.WorkProspecting, func(ctx context.Context, payload any, report queue.ProgressFunc) (any, error) {
		return map[string]any{"ok": true}, nil
	}, 0, time.Second)) // zero workers: no job ever runs, so every enqueued job stays queued until cancelled

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Shutdown)

	h := NewRouter(RouterConfig{Queue: q, Logger: zap.NewNop()})

	enqueue := func() string {
		rec := doJSON(t, h, http.MethodPost, "/api/prospect-queue", map[string]any{"icp_brief": "b2b saas"})
		require.Equal(t, http.StatusCreated, rec.Code)
		var created map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		return created["data"].(map[string]any)["job_id"].(string)
	}

	completedID := enqueue()
	queuedID := enqueue()

	completed, err := q.Cancel(completedID)
	require.NoError(t, err)
	require.True(t, completed) // cancelled here so its state is already terminal by the batch call below

	rec := doJSON(t, h, http.MethodPost, "/api/cancel-prospect", map[string]any{
		"job_ids": []string{queuedID, completedID, "does-not-exist"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)

	require.ElementsMatch(t, []any{queuedID}, data["cancelled"])
	require.ElementsMatch(t, []any{"does-not-exist"}, data["not_found"])
	require.ElementsMatch(t, []any{completedID}, data["already_started"])
}
