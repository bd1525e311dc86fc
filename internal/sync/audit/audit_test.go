// Package audit provides unit tests for the fire-and-forget conflict logger.
package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/claricoach/backend/internal/models"
	"github.com/claricoach/backend/internal/sync/conflict"
)

// recordingSink captures inserted records and can be made slow or failing.
type recordingSink struct {
	mu      sync.Mutex
	records []*models.ConflictLog
	delay   time.Duration
	err     error
}

func (s *recordingSink) InsertConflictLog(ctx context.Context, rec *models.ConflictLog) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sampleResult() conflict.Result {
	return conflict.Result{
		RecordType:      models.RecordTypeContextProfile,
		RecordID:        "33333333-3333-4333-8333-333333333333",
		Resolution:      conflict.ResolutionLocalWins,
		ConflictType:    conflict.ConflictTypeTimestampDivergence,
		LocalTimestamp:  200,
		RemoteTimestamp: 100,
	}
}

func TestLogConflictDelivers(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink)

	l.LogConflict(sampleResult())
	l.Flush()

	if sink.count() != 1 {
		t.Fatalf("Expected 1 audit record, got %d", sink.count())
	}
	rec := sink.records[0]
	if rec.ID == "" {
		t.Error("Expected record ID to be assigned")
	}
	if rec.Resolution != "local_wins" {
		t.Errorf("Expected resolution local_wins, got %q", rec.Resolution)
	}
	if rec.LocalTimestamp != 200 || rec.RemoteTimestamp != 100 {
		t.Errorf("Expected timestamps carried over, got %d/%d", rec.LocalTimestamp, rec.RemoteTimestamp)
	}
	if rec.DetectedAt == 0 {
		t.Error("Expected DetectedAt to be set")
	}
}

func TestLogConflictNeverBlocksCaller(t *testing.T) {
	sink := &recordingSink{delay: 200 * time.Millisecond}
	l := New(sink)

	start := time.Now()
	l.LogConflict(sampleResult())
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("LogConflict blocked the caller for %v", elapsed)
	}
	l.Flush()
}

func TestLogConflictDiscardsSinkFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("audit endpoint down")}
	l := New(sink)

	// Must not panic, block, or surface the error in any way.
	l.LogConflict(sampleResult())
	l.Flush()

	if sink.count() != 0 {
		t.Errorf("Expected no records on a failing sink, got %d", sink.count())
	}
}

func TestLogConflictConcurrent(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogConflict(sampleResult())
		}()
	}
	wg.Wait()
	l.Flush()

	if sink.count() != n {
		t.Errorf("Expected %d audit records, got %d", n, sink.count())
	}
}
