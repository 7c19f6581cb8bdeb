package scheduler

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// ─── Publish Retry Queue ────────────────────────────────────────────────────
// A result that was computed but could not be written is kept here and the
// write is retried with exponential backoff. While pending, the task name
// stays excluded from scanning so the computation is not repeated.

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // attempts before giving up
	BaseDelay  time.Duration // first backoff delay, doubled per attempt
	MaxDelay   time.Duration // cap on the backoff delay
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// RetryEntry tracks one unpublished result.
type RetryEntry struct {
	Name      string    // task directory name
	Attempt   int       // retries scheduled so far
	NextRetry time.Time // earliest time of the next attempt
	FailedAt  time.Time // when the last attempt failed
	Error     string    // last failure reason

	publish func() error
	abandon func(err error)
}

// RetryQueue orders pending publications by their next retry time.
type RetryQueue struct {
	mu      sync.Mutex
	config  RetryConfig
	heap    retryHeap
	pending map[string]bool

	totalRetries   int64
	totalExhausted int64
}

// NewRetryQueue creates an empty retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	return &RetryQueue{config: cfg, pending: make(map[string]bool)}
}

// ScheduleRetry queues entry with exponential backoff. It returns false
// once the entry has used up MaxRetries; the entry is then dropped.
func (rq *RetryQueue) ScheduleRetry(entry RetryEntry) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	entry.Attempt++
	if entry.Attempt > rq.config.MaxRetries {
		rq.totalExhausted++
		return false
	}

	// baseDelay * 2^(attempt-1), capped
	delay := rq.config.BaseDelay
	for i := 1; i < entry.Attempt; i++ {
		delay *= 2
		if delay > rq.config.MaxDelay {
			delay = rq.config.MaxDelay
			break
		}
	}

	entry.FailedAt = time.Now()
	entry.NextRetry = entry.FailedAt.Add(delay)
	heap.Push(&rq.heap, entry)
	rq.pending[entry.Name] = true
	rq.totalRetries++
	return true
}

// DrainReady removes and returns every entry due at now, earliest first.
// With force set all entries are returned regardless of their due time.
func (rq *RetryQueue) DrainReady(now time.Time, force bool) []RetryEntry {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	var ready []RetryEntry
	for rq.heap.Len() > 0 {
		if !force && now.Before(rq.heap[0].NextRetry) {
			break
		}
		e := heap.Pop(&rq.heap).(RetryEntry)
		delete(rq.pending, e.Name)
		ready = append(ready, e)
	}
	return ready
}

// Pending returns the names awaiting a retry, sorted.
func (rq *RetryQueue) Pending() []string {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	names := make([]string, 0, len(rq.pending))
	for n := range rq.pending {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries pending retry.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.heap.Len()
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"`
}

// RetryStats returns current retry queue statistics.
func (rq *RetryQueue) RetryStats() RetryStats {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return RetryStats{
		PendingRetries: rq.heap.Len(),
		TotalRetries:   rq.totalRetries,
		TotalExhausted: rq.totalExhausted,
	}
}

// retryHeap is a min-heap on NextRetry.
type retryHeap []RetryEntry

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].NextRetry.Before(h[j].NextRetry) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)        { *h = append(*h, x.(RetryEntry)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
