package queue

import (
	"container/heap"
	"time"

	"github.com/leadforge/core/internal/model"
)

// readyItem is a job waiting to be dequeued, ordered within its work_type
// by (priority DESC, enqueued_at ASC) per spec §4.3's fairness rule.
type readyItem struct {
	jobID      string
	priority   int
	enqueuedAt time.Time
	index      int // heap-internal, maintained by container/heap
}

// readyHeap is a container/heap.Interface implementation giving
// highest-priority, earliest-enqueued job first.
type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	item := x.(*readyItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*readyHeap)(nil)

// newReadyItem constructs a heap entry for j.
func newReadyItem(j *model.Job) *readyItem {
	return &readyItem{jobID: j.ID, priority: j.Priority, enqueuedAt: j.EnqueuedAt}
}
