// Package audit provides the best-effort conflict audit trail.
//
// The contract is strict: logging a conflict never blocks the caller and
// never returns an error. Losing an audit record is acceptable; stalling or
// failing a sync pass over bookkeeping is not.
package audit

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/logging"
	"github.com/claricoach/backend/internal/models"
	"github.com/claricoach/backend/internal/sync/conflict"
	"github.com/claricoach/backend/internal/uuid"
)

// DefaultWriteTimeout bounds each detached audit write.
const DefaultWriteTimeout = 10 * time.Second

// Sink receives audit records, typically the remote record store.
type Sink interface {
	InsertConflictLog(ctx context.Context, rec *models.ConflictLog) error
}

// Logger dispatches conflict records to the sink on detached goroutines.
type Logger struct {
	sink    Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Logger writing to the given sink.
func New(sink Sink) *Logger {
	return &Logger{sink: sink, timeout: DefaultWriteTimeout}
}

// LogConflict records one resolution. Fire-and-forget: the write happens on
// its own goroutine with its own deadline, and failures are discarded after
// a local log line.
func (l *Logger) LogConflict(res conflict.Result) {
	rec := &models.ConflictLog{
		ID:              models.UUID(uuid.New()),
		RecordType:      res.RecordType,
		RecordID:        res.RecordID,
		ConflictType:    res.ConflictType,
		Resolution:      string(res.Resolution),
		LocalTimestamp:  res.LocalTimestamp,
		RemoteTimestamp: res.RemoteTimestamp,
		DetectedAt:      time.Now().Unix(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		if err := l.sink.InsertConflictLog(ctx, rec); err != nil {
			// Discarded by contract.
			logging.Warn("Dropped conflict audit record", map[string]interface{}{
				"error_code":  string(apperrors.CodeOf(err)),
				"record_type": string(rec.RecordType),
				"record_id":   string(rec.RecordID),
				"resolution":  rec.Resolution,
			})
		}
	}()
}

// Flush waits for all in-flight audit writes. Used on shutdown and by tests;
// normal callers never wait.
func (l *Logger) Flush() {
	l.wg.Wait()
}
