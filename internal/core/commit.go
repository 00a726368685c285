package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/livpulse/internal/logging"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

// DefaultBatchSize is the number of records written per commit batch.
const DefaultBatchSize = 100

// DefaultCommitTimeout bounds one commit once it has started.
const DefaultCommitTimeout = 10 * time.Minute

// Commit progress occupies the 10-90% band.
const (
	commitProgressStart = 10
	commitProgressSpan  = 80
)

var tracer = otel.Tracer(instrumentationName)

// RecordWriter persists destination records.
type RecordWriter interface {
	// WriteBatch writes records atomically into the schema's table.
	WriteBatch(ctx context.Context, s schema.Schema, records []schema.Record) error

	// DeleteByUpload removes every record tagged with uploadID.
	DeleteByUpload(ctx context.Context, s schema.Schema, uploadID string) (int64, error)
}

// HistoryStore persists upload history outside the staging TTL.
type HistoryStore interface {
	// SaveHistory inserts or replaces the record for rec.UploadID.
	SaveHistory(ctx context.Context, rec HistoryRecord) error
	GetHistory(ctx context.Context, uploadID string) (HistoryRecord, bool, error)
	ListHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error)
}

// Committer writes validated rows of a staged upload to their destination.
type Committer struct {
	registry  *schema.Registry
	staging   Staging
	records   RecordWriter
	history   HistoryStore
	reporter  *ProgressReporter
	batchSize int
	timeout   time.Duration
	metrics   *pipelineMetrics
	now       func() time.Time
}

// NewCommitter returns a Committer writing batches of batchSize records.
func NewCommitter(registry *schema.Registry, staging Staging, records RecordWriter, history HistoryStore, reporter *ProgressReporter, batchSize int) *Committer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Committer{
		registry:  registry,
		staging:   staging,
		records:   records,
		history:   history,
		reporter:  reporter,
		batchSize: batchSize,
		timeout:   DefaultCommitTimeout,
		metrics:   newPipelineMetrics(),
		now:       time.Now,
	}
}

// Commit writes the committable rows of uploadID on behalf of userID.
//
// Rows carrying an error-severity issue are skipped. Batches are written one
// after another; the first failing batch stops the commit and is reported as
// a *CommitBatchError while earlier batches stay written. On success the
// staged result becomes committed, its raw rows are dropped and a history
// record is saved.
//
// The commit is detached from ctx cancellation: a caller that goes away does
// not stop it between batches. Only the committer's own timeout does.
//
// Every failure except a conflicting commit is reported as failed progress
// before it is returned.
func (c *Committer) Commit(ctx context.Context, uploadID string, userID int64) (CommitSummary, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "core.Commit")
	span.SetAttributes(attribute.String("upload_id", uploadID))
	defer span.End()

	summary, err := c.commit(ctx, uploadID, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !isCommitConflict(err) {
			c.reporter.Fail(context.WithoutCancel(ctx), uploadID, userID, "Commit failed: "+err.Error())
		}
		return CommitSummary{}, err
	}
	return summary, nil
}

func (c *Committer) commit(ctx context.Context, uploadID string, userID int64) (CommitSummary, error) {
	start := c.now()

	staged, ok := c.staging.GetResult(ctx, uploadID)
	if !ok || staged.Dataset == nil {
		if ok && staged.Result.Status == StatusCommitted {
			return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, ErrAlreadyCommitted)
		}
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, ErrNoStagedData)
	}
	if staged.Result.Status == StatusCommitted {
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, ErrAlreadyCommitted)
	}

	dt, ok := c.staging.GetDataType(ctx, uploadID)
	if !ok {
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, ErrNoDataType)
	}
	s, err := c.registry.Lookup(string(dt))
	if err != nil {
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("data_type", string(dt)))

	if missing := staged.Result.HeaderErrors(); len(missing) > 0 {
		return CommitSummary{}, fmt.Errorf("commit %s: %w: %s", uploadID, ErrMissingColumns, missing[0].Column)
	}

	claimed, err := c.staging.ClaimCommit(ctx, uploadID)
	if err != nil {
		return CommitSummary{}, fmt.Errorf("commit %s: claim: %w", uploadID, err)
	}
	if !claimed {
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, ErrCommitInProgress)
	}

	logger := logging.WithUpload(ctx, uploadID, string(dt), userID)

	records, skipped, err := c.buildRecords(s, uploadID, userID, staged)
	if err != nil {
		c.staging.ReleaseCommit(ctx, uploadID)
		return CommitSummary{}, fmt.Errorf("commit %s: %w", uploadID, err)
	}

	batches := (len(records) + c.batchSize - 1) / c.batchSize
	c.reporter.Report(ctx, uploadID, userID, Progress{
		Stage:      StageCommitting,
		Percentage: commitProgressStart,
		Message:    fmt.Sprintf("Committing %d rows in %d batches...", len(records), batches),
		TotalRows:  len(records),
	})
	logger.Info("commit started", "records", len(records), "skipped", skipped, "batches", batches)

	written := 0
	for b := 0; b < batches; b++ {
		lo := b * c.batchSize
		hi := min(lo+c.batchSize, len(records))

		err := c.records.WriteBatch(ctx, s, records[lo:hi])
		c.metrics.batch(ctx, string(dt), hi-lo, err)
		if err != nil {
			batchErr := &CommitBatchError{BatchIndex: b, Batches: batches, Committed: written, Err: err}
			c.failBatch(ctx, logger, staged, s, batchErr)
			return CommitSummary{}, batchErr
		}
		written = hi

		c.reporter.Report(ctx, uploadID, userID, Progress{
			Stage:         StageCommitting,
			Percentage:    commitProgressStart + (b+1)*commitProgressSpan/batches,
			Message:       fmt.Sprintf("Committed batch %d of %d...", b+1, batches),
			RowsProcessed: written,
			TotalRows:     len(records),
		})
	}

	// Every row is written; record that even if the timeout fires now.
	done := context.WithoutCancel(ctx)

	c.reporter.Report(done, uploadID, userID, Progress{
		Stage:         StageCompleted,
		Percentage:    100,
		Message:       fmt.Sprintf("Successfully committed %d rows", written),
		RowsProcessed: written,
		TotalRows:     len(records),
	})

	now := c.now().UTC()
	result := staged.Result
	result.Status = StatusCommitted
	result.CommittedRows = written
	c.staging.PutResult(done, uploadID, StagedUpload{Result: result, Timestamp: now})

	c.saveHistory(done, logger, historyFor(result, HistoryCompleted, "", now))

	took := c.now().Sub(start)
	c.metrics.committed(done, string(dt), took)
	logger.Info("commit completed", "records", written, "duration", took)

	return CommitSummary{
		UploadID:      uploadID,
		DataType:      s.Type,
		CommittedRows: written,
		SkippedRows:   skipped,
		Batches:       batches,
		Duration:      took,
	}, nil
}

// buildRecords transforms every committable row and tags it for the upload.
func (c *Committer) buildRecords(s schema.Schema, uploadID string, userID int64, staged StagedUpload) ([]schema.Record, int, error) {
	if len(staged.Dataset) == 0 {
		return nil, 0, nil
	}

	index := headerIndex(staged.Dataset[0])
	errRows := staged.Result.ErrorRows()
	now := c.now().UTC()

	data := staged.Dataset[1:]
	records := make([]schema.Record, 0, len(data))
	skipped := 0

	for i, row := range data {
		rowNum := i + 2
		if _, bad := errRows[rowNum]; bad {
			skipped++
			continue
		}

		rec, err := s.Transform(rowFields(s, index, row))
		if err != nil {
			return nil, 0, fmt.Errorf("row %d: %w", rowNum, err)
		}
		rec["upload_id"] = uploadID
		rec["uploaded_by"] = userID
		rec["created_at"] = now
		rec["updated_at"] = now
		records = append(records, rec)
	}

	return records, skipped, nil
}

// failBatch records a partial commit: failed staged status with the raw rows
// kept for a retry after rollback, and a failed history record. It runs even
// when ctx is already done.
func (c *Committer) failBatch(ctx context.Context, logger *slog.Logger, staged StagedUpload, s schema.Schema, batchErr *CommitBatchError) {
	ctx = context.WithoutCancel(ctx)
	uploadID := staged.Result.UploadID

	now := c.now().UTC()
	result := staged.Result
	result.Status = StatusFailed
	result.CommittedRows = batchErr.Committed
	result.Error = batchErr.Error()
	c.staging.PutResult(ctx, uploadID, StagedUpload{Result: result, Dataset: staged.Dataset, Timestamp: now})

	logger.Error("commit batch failed",
		"batch", batchErr.BatchIndex,
		"batches", batchErr.Batches,
		"committed", batchErr.Committed,
		"table", s.Table,
		"error", batchErr.Err,
	)

	c.saveHistory(ctx, logger, historyFor(result, HistoryFailed, batchErr.Error(), now))
}

// saveHistory writes rec, keeping the original creation time when one exists.
// Failures are logged; the destination rows are already written.
func (c *Committer) saveHistory(ctx context.Context, logger *slog.Logger, rec HistoryRecord) {
	if c.history == nil {
		return
	}
	if prev, ok, err := c.history.GetHistory(ctx, rec.UploadID); err == nil && ok {
		rec.CreatedAt = prev.CreatedAt
	}
	if err := c.history.SaveHistory(ctx, rec); err != nil {
		logger.Error("save upload history failed", "status", rec.Status, "error", err)
	}
}

func historyFor(r ProcessingResult, status HistoryStatus, errMsg string, now time.Time) HistoryRecord {
	return HistoryRecord{
		UploadID:      r.UploadID,
		Filename:      r.Filename,
		DataType:      r.DataType,
		TotalRows:     r.TotalRows,
		ValidRows:     r.ValidRows,
		InvalidRows:   r.InvalidRows,
		CommittedRows: r.CommittedRows,
		Status:        status,
		Error:         errMsg,
		UploadedBy:    r.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// isCommitConflict reports errors that leave the upload's progress untouched.
func isCommitConflict(err error) bool {
	return errors.Is(err, ErrCommitInProgress) || errors.Is(err, ErrAlreadyCommitted)
}
