package scheduler

import (
	"testing"
	"time"
)

// ─── Retry Queue Tests ──────────────────────────────────────────────────────

func TestRetryQueue_ScheduleAndDrain(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	})

	if !rq.ScheduleRetry(RetryEntry{Name: "task-1", Error: "disk full"}) {
		t.Fatal("expected ScheduleRetry to succeed for first retry")
	}
	if rq.Len() != 1 {
		t.Fatalf("expected 1 pending retry, got %d", rq.Len())
	}
	if got := rq.Pending(); len(got) != 1 || got[0] != "task-1" {
		t.Errorf("Pending() = %v", got)
	}

	if ready := rq.DrainReady(time.Now(), false); len(ready) != 0 {
		t.Fatalf("entry ready before its backoff expired: %v", ready)
	}

	ready := rq.DrainReady(time.Now().Add(2*time.Second), false)
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready retry, got %d", len(ready))
	}
	if ready[0].Name != "task-1" || ready[0].Attempt != 1 {
		t.Errorf("got %s attempt %d, want task-1 attempt 1", ready[0].Name, ready[0].Attempt)
	}
	if len(rq.Pending()) != 0 {
		t.Error("drained entry still pending")
	}
}

func TestRetryQueue_MaxRetriesExhausted(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	e := RetryEntry{Name: "task-1"}
	for i := 0; i < 2; i++ {
		if !rq.ScheduleRetry(e) {
			t.Fatalf("retry %d rejected", i+1)
		}
		e = rq.DrainReady(time.Time{}, true)[0]
	}
	if rq.ScheduleRetry(e) {
		t.Error("third retry accepted with MaxRetries 2")
	}
	st := rq.RetryStats()
	if st.TotalRetries != 2 || st.TotalExhausted != 1 || st.PendingRetries != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRetryQueue_BackoffIsCapped(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second})

	e := RetryEntry{Name: "t", Attempt: 5}
	before := time.Now()
	rq.ScheduleRetry(e)
	got := rq.DrainReady(time.Time{}, true)[0]
	if d := got.NextRetry.Sub(before); d < 4*time.Second || d > 5*time.Second {
		t.Errorf("delay = %v, want the 4s cap", d)
	}
}

func TestRetryQueue_DrainOrder(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: time.Hour})
	rq.ScheduleRetry(RetryEntry{Name: "late", Attempt: 3}) // 8s
	rq.ScheduleRetry(RetryEntry{Name: "early"})            // 1s

	ready := rq.DrainReady(time.Now().Add(time.Minute), false)
	if len(ready) != 2 || ready[0].Name != "early" || ready[1].Name != "late" {
		t.Errorf("order = %v", ready)
	}
}
