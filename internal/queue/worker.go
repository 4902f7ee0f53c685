package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
)

// worker is one goroutine in a work_type's pool. It blocks until a job
// becomes ready or the queue is shutting down, per spec §4.3's "dequeue
// blocks" rule.
func (q *Queue) worker(ctx context.Context, workType model.WorkType, wts *workTypeState) {
	defer q.wg.Done()

	for {
		jobID, ok := q.dequeue(ctx, wts)
		if !ok {
			return // ctx cancelled, queue shutting down
		}
		q.run(ctx, workType, wts, jobID)
	}
}

// dequeue pops the highest-priority ready job for wts, blocking (without
// holding the lock) until one is available or ctx is done.
func (q *Queue) dequeue(ctx context.Context, wts *workTypeState) (string, bool) {
	for {
		q.mu.Lock()
		if len(wts.heap) > 0 {
			item := heap.Pop(&wts.heap).(*readyItem)
			q.mu.Unlock()
			return item.jobID, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-wts.wakeCh:
		case <-time.After(500 * time.Millisecond):
			// Periodic poll as a safety net in case a wake signal was
			// coalesced away by the non-blocking send in wake().
		}
	}
}

// run executes jobID to completion: marks it running, invokes the
// registered runner under the work_type's timeout, and records the
// terminal transition to the WAL.
func (q *Queue) run(ctx context.Context, workType model.WorkType, wts *workTypeState, jobID string) {
	q.mu.Lock()
	rj, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	if rj.job.State != model.JobQueued {
		// Already cancelled between dequeue and here.
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	rj.job.State = model.JobRunning
	rj.job.StartedAt = &now
	payload := rj.job.Payload
	cancelCh := rj.cancelCh
	q.mu.Unlock()

	q.appendTransition(wts, jobID, rj, model.JobRunning)

	runCtx := ctx
	var cancel context.CancelFunc
	if wts.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, wts.timeout)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancel(runCtx)
	defer cancelRun()
	go func() {
		select {
		case <-cancelCh:
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	report := func(current, total int, message string) {
		q.mu.Lock()
		if r, ok := q.jobs[jobID]; ok {
			r.job.Progress = model.Progress{Current: current, Total: total, Message: message}
		}
		q.mu.Unlock()
	}

	result, err := wts.runner(runCtx, payload, report)

	q.mu.Lock()
	rj, ok = q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	endedAt := time.Now().UTC()
	rj.job.EndedAt = &endedAt

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		rj.job.State = model.JobFailed
		rj.job.Error = "job exceeded work_type timeout"
	case runCtx.Err() == context.Canceled:
		rj.job.State = model.JobCancelled
	case err != nil:
		rj.job.State = model.JobFailed
		rj.job.Error = err.Error()
	default:
		rj.job.State = model.JobCompleted
		rj.job.Result = result
	}
	finalState := rj.job.State
	q.mu.Unlock()

	q.appendTransition(wts, jobID, rj, finalState)

	if finalState == model.JobFailed {
		q.logger.Warn("job failed", zap.String("job_id", jobID), zap.String("work_type", string(workType)), zap.String("error", rj.job.Error))
	}
}

func (q *Queue) appendTransition(wts *workTypeState, jobID string, rj *jobRecord, state model.JobState) {
	q.mu.RLock()
	payloadJSON, _ := json.Marshal(rj.job.Payload)
	resultJSON, _ := json.Marshal(rj.job.Result)
	rec := walRecord{
		JobID: jobID, WorkType: rj.job.WorkType, Priority: rj.job.Priority, State: state,
		Payload: payloadJSON, Result: resultJSON, Error: rj.job.Error,
		EnqueuedAt: rj.job.EnqueuedAt, RecordedAt: time.Now().UTC(),
	}
	q.mu.RUnlock()

	if err := wts.wal.append(rec); err != nil {
		q.logger.Error("failed to append wal transition", zap.String("job_id", jobID), zap.Error(err))
	}
}
