// Package queue implements the JobQueue: a durable, priority-ordered,
// multi-worker-pool queue (spec §4.3). It generalizes the channel-based
// one-job-at-a-time design of Arkeep's agent executor into N worker pools,
// one per work_type, each backed by its own priority heap and write-ahead
// log.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/errtaxonomy"
	"github.com/leadforge/core/internal/model"
)

// ProgressFunc is how a stage runner reports progress back to the queue.
// Calls are lossy across crashes by design (spec §4.3) — only State
// transitions are durable via the WAL.
type ProgressFunc func(current, total int, message string)

// RunnerFunc is the stage-runner contract PipelineOrchestrator registers
// per work_type. ctx is cancelled when the job's cancellation signal fires;
// the runner is expected to observe it between sub-steps, not mid-call.
type RunnerFunc func(ctx context.Context, payload any, report ProgressFunc) (result any, err error)

// jobRecord is the queue's authoritative mutable state for one job. It is
// always accessed under Queue.mu; runners never see it directly.
type jobRecord struct {
	job        model.Job
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// workTypeState is everything the queue tracks for a single work_type:
// its ready heap, worker pool size, timeout, and WAL.
type workTypeState struct {
	runner    RunnerFunc
	poolSize  int
	timeout   time.Duration
	wal       *wal
	heap      readyHeap
	wakeCh    chan struct{}
}

// Config controls queue-wide behavior.
type Config struct {
	// WALDir is the directory under which <work_type>.log files live.
	WALDir string
	// HighWaterMark is the maximum number of non-terminal jobs the queue
	// accepts before enqueue starts failing fast with a Transient error.
	// Zero means unbounded.
	HighWaterMark int
}

// Queue is the durable, priority-ordered, multi-worker-pool job queue.
type Queue struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	jobs      map[string]*jobRecord
	workTypes map[model.WorkType]*workTypeState

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns a Queue. Call RegisterRunner for every work_type before
// Start.
func New(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:       cfg,
		logger:    logger.Named("queue"),
		jobs:      make(map[string]*jobRecord),
		workTypes: make(map[model.WorkType]*workTypeState),
	}
}

// RegisterRunner wires the stage runner for workType, its worker pool size,
// and its wall-clock timeout. Must be called before Start.
func (q *Queue) RegisterRunner(workType model.WorkType, runner RunnerFunc, poolSize int, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, err := openWAL(q.cfg.WALDir, workType)
	if err != nil {
		return err
	}

	q.workTypes[workType] = &workTypeState{
		runner:   runner,
		poolSize: poolSize,
		timeout:  timeout,
		wal:      w,
		wakeCh:   make(chan struct{}, 1),
	}
	return nil
}

// Start replays every registered work_type's WAL (moving any job found
// `running` at last shutdown back to `queued`, per spec §4.3) and launches
// each work_type's worker pool. Start must be called after every
// RegisterRunner call.
func (q *Queue) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.mu.Lock()
	for workType, wts := range q.workTypes {
		records, err := replayWAL(q.cfg.WALDir, workType)
		if err != nil {
			q.mu.Unlock()
			return fmt.Errorf("queue: replay wal for %s: %w", workType, err)
		}
		for _, rec := range records {
			if rec.State.Terminal() {
				continue
			}
			state := rec.State
			if state == model.JobRunning {
				state = model.JobQueued // at-least-once: resume as queued
			}
			job := model.Job{
				ID:         rec.JobID,
				WorkType:   rec.WorkType,
				Priority:   rec.Priority,
				State:      state,
				EnqueuedAt: rec.EnqueuedAt,
			}
			if len(rec.Payload) > 0 {
				var payload any
				_ = json.Unmarshal(rec.Payload, &payload)
				job.Payload = payload
			}
			rj := &jobRecord{job: job, cancelCh: make(chan struct{})}
			q.jobs[job.ID] = rj
			heap.Push(&wts.heap, &readyItem{jobID: job.ID, priority: job.Priority, enqueuedAt: job.EnqueuedAt})
			q.logger.Info("replayed job from wal", zap.String("job_id", job.ID), zap.String("work_type", string(workType)), zap.String("state", string(state)))
		}

		for i := 0; i < wts.poolSize; i++ {
			q.wg.Add(1)
			go q.worker(ctx, workType, wts)
		}
	}
	q.mu.Unlock()

	return nil
}

// Shutdown stops accepting new work and waits for in-flight runners to
// observe ctx cancellation and return. It does not force-kill runners.
func (q *Queue) Shutdown() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, wts := range q.workTypes {
		_ = wts.wal.close()
	}
}

// Enqueue admits a new job for workType with the given priority and
// payload. It never blocks. If the queue's high-water mark is exceeded, it
// fails fast with a Transient errtaxonomy.AppError — the caller should
// retry.
func (q *Queue) Enqueue(workType model.WorkType, priority int, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wts, ok := q.workTypes[workType]
	if !ok {
		return "", errtaxonomy.New(errtaxonomy.InvalidInput, fmt.Sprintf("queue: unknown work_type %q", workType))
	}

	if q.cfg.HighWaterMark > 0 && q.nonTerminalCountLocked() >= q.cfg.HighWaterMark {
		return "", errtaxonomy.New(errtaxonomy.Transient, "queue: high-water mark exceeded, retry later")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("queue: generate job id: %w", err)
	}
	jobID := id.String()

	job := model.Job{
		ID:         jobID,
		WorkType:   workType,
		Priority:   priority,
		State:      model.JobQueued,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	payloadJSON, _ := json.Marshal(payload)
	if err := wts.wal.append(walRecord{
		JobID: jobID, WorkType: workType, Priority: priority, State: model.JobQueued,
		Payload: payloadJSON, EnqueuedAt: job.EnqueuedAt, RecordedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	q.jobs[jobID] = &jobRecord{job: job, cancelCh: make(chan struct{})}
	heap.Push(&wts.heap, newReadyItem(&job))
	q.wake(wts)

	return jobID, nil
}

// Cancel cancels jobID iff it is still queued. Returns false if the job
// does not exist, is already running, or is already terminal — per spec
// §4.3, a running job cannot be cancelled from the outside; it only
// receives the signal (handled separately, see Signal).
func (q *Queue) Cancel(jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rj, ok := q.jobs[jobID]
	if !ok {
		return false, errtaxonomy.New(errtaxonomy.NotFound, fmt.Sprintf("queue: job %s not found", jobID))
	}
	if rj.job.State != model.JobQueued {
		return false, nil
	}

	wts := q.workTypes[rj.job.WorkType]
	q.removeFromHeapLocked(wts, jobID)

	now := time.Now().UTC()
	rj.job.State = model.JobCancelled
	rj.job.EndedAt = &now
	rj.cancelOnce.Do(func() { close(rj.cancelCh) })

	payloadJSON, _ := json.Marshal(rj.job.Payload)
	_ = wts.wal.append(walRecord{
		JobID: jobID, WorkType: rj.job.WorkType, Priority: rj.job.Priority, State: model.JobCancelled,
		Payload: payloadJSON, EnqueuedAt: rj.job.EnqueuedAt, RecordedAt: now,
	})

	return true, nil
}

// Signal delivers the cancellation signal to a running job's context
// without changing its terminal state — the runner decides whether and
// when to honour it, per spec §4.3.
func (q *Queue) Signal(jobID string) bool {
	q.mu.RLock()
	rj, ok := q.jobs[jobID]
	q.mu.RUnlock()
	if !ok {
		return false
	}
	rj.cancelOnce.Do(func() { close(rj.cancelCh) })
	return true
}

// Status returns a self-consistent snapshot for each requested job ID (all
// IDs when jobIDs is empty) plus a summary histogram, read from a single
// lock acquisition per spec §4.3's query API contract. Both the snapshots
// and the histogram are scoped to workType — each per-stage status endpoint
// only ever sees its own stage's jobs.
func (q *Queue) Status(workType model.WorkType, jobIDs []string) ([]model.Snapshot, model.Histogram) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var hist model.Histogram
	var snapshots []model.Snapshot

	want := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		want[id] = true
	}

	for id, rj := range q.jobs {
		if rj.job.WorkType != workType {
			continue
		}
		hist.Tally(rj.job.State)
		if len(jobIDs) > 0 && !want[id] {
			continue
		}
		snapshots = append(snapshots, toSnapshot(rj.job))
	}
	return snapshots, hist
}

func toSnapshot(j model.Job) model.Snapshot {
	return model.Snapshot{
		JobID:      j.ID,
		WorkType:   j.WorkType,
		State:      j.State,
		Priority:   j.Priority,
		Progress:   j.Progress,
		Result:     j.Result,
		Error:      j.Error,
		EnqueuedAt: j.EnqueuedAt,
		StartedAt:  j.StartedAt,
		EndedAt:    j.EndedAt,
	}
}

func (q *Queue) nonTerminalCountLocked() int {
	n := 0
	for _, rj := range q.jobs {
		if !rj.job.State.Terminal() {
			n++
		}
	}
	return n
}

func (q *Queue) removeFromHeapLocked(wts *workTypeState, jobID string) {
	for i, item := range wts.heap {
		if item.jobID == jobID {
			heap.Remove(&wts.heap, i)
			return
		}
	}
}

func (q *Queue) wake(wts *workTypeState) {
	select {
	case wts.wakeCh <- struct{}{}:
	default:
	}
}
