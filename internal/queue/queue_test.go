package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(Config{WALDir: t.TempDir()}, zap.NewNop())
}

func TestEnqueueAndStatusRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	done := make(chan struct{})
	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		close(done)
		return map[string]any{"ok": true}, nil
	}, 1, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Shutdown()

	jobID, err := q.Enqueue(model.WorkAnalyzeURL, 0, map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never invoked")
	}

	require.Eventually(t, func() bool {
		snaps, _ := q.Status(model.WorkAnalyzeURL, []string{jobID})
		return len(snaps) == 1 && snaps[0].State == model.JobCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestHigherPriorityJobRunsFirst(t *testing.T) {
	q := newTestQueue(t)
	var mu sync.Mutex
	var order []string

	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		mu.Lock()
		order = append(order, payload.(map[string]any)["label"].(string))
		mu.Unlock()
		return nil, nil
	}, 1, time.Second))

	// Enqueue low priority first, then high, before starting the single
	// worker, so the heap ordering (not arrival order) determines which
	// runs first.
	_, err := q.Enqueue(model.WorkAnalyzeURL, 0, map[string]any{"label": "low"})
	require.NoError(t, err)
	_, err = q.Enqueue(model.WorkAnalyzeURL, 10, map[string]any{"label": "high"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestCancelQueuedJobPreventsExecution(t *testing.T) {
	q := newTestQueue(t)
	ran := false
	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		ran = true
		return nil, nil
	}, 0, time.Second)) // zero workers: job stays queued until we check it

	jobID, err := q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.NoError(t, err)

	cancelled, err := q.Cancel(jobID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.False(t, ran)

	snaps, _ := q.Status(model.WorkAnalyzeURL, []string{jobID})
	require.Len(t, snaps, 1)
	assert.Equal(t, model.JobCancelled, snaps[0].State)
}

func TestRunnerErrorMarksJobFailed(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		return nil, errors.New("boom")
	}, 1, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Shutdown()

	jobID, err := q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snaps, _ := q.Status(model.WorkAnalyzeURL, []string{jobID})
		return len(snaps) == 1 && snaps[0].State.Terminal()
	}, time.Second, 10*time.Millisecond)

	snaps, _ := q.Status(model.WorkAnalyzeURL, []string{jobID})
	assert.Equal(t, model.JobFailed, snaps[0].State)
	assert.Contains(t, snaps[0].Error, "boom")
}

func TestHighWaterMarkRejectsEnqueue(t *testing.T) {
	q := New(Config{WALDir: t.TempDir(), HighWaterMark: 1}, zap.NewNop())
	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		return nil, nil
	}, 0, time.Second))

	_, err := q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.Error(t, err)
}

func TestStatusHistogramTalliesAllJobs(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.RegisterRunner(model.WorkAnalyzeURL, func(ctx context.Context, payload any, report ProgressFunc) (any, error) {
		return nil, nil
	}, 0, time.Second))

	_, err := q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(model.WorkAnalyzeURL, 0, nil)
	require.NoError(t, err)

	_, hist := q.Status(model.WorkAnalyzeURL, nil)
	assert.Equal(t, 2, hist.Total)
	assert.Equal(t, 2, hist.Queued)
}
