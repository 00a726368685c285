package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JonMunkholm/livpulse/internal/logging"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

// DefaultTaskTimeout bounds one background processing task.
const DefaultTaskTimeout = 10 * time.Minute

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	BatchSize        int
	ProgressInterval int
	PreviewRows      int
	InlineErrors     int
	MaxConcurrent    int
	MaxWait          time.Duration
	TaskTimeout      time.Duration
	CommitTimeout    time.Duration
}

// DefaultOptions returns the stock pipeline settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:        DefaultBatchSize,
		ProgressInterval: DefaultProgressInterval,
		PreviewRows:      10,
		InlineErrors:     10,
		MaxConcurrent:    DefaultMaxConcurrentUploads,
		MaxWait:          DefaultMaxWaitTime,
		TaskTimeout:      DefaultTaskTimeout,
		CommitTimeout:    DefaultCommitTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = d.PreviewRows
	}
	if o.InlineErrors <= 0 {
		o.InlineErrors = d.InlineErrors
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = d.MaxConcurrent
	}
	if o.MaxWait <= 0 {
		o.MaxWait = d.MaxWait
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = d.TaskTimeout
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = d.CommitTimeout
	}
	return o
}

// Deps are the capabilities the pipeline runs on. Staging and Notifier may
// be nil and fall back to no-ops; Records and History are required for
// commits and history.
type Deps struct {
	Registry *schema.Registry
	Staging  Staging
	Notifier Notifier
	Records  RecordWriter
	History  HistoryStore
}

// UploadRequest is a file submitted for processing.
type UploadRequest struct {
	Filename string
	Data     []byte
	DataType string
	UserID   int64
}

// Service orchestrates uploads from submission to commit.
type Service struct {
	registry  *schema.Registry
	staging   Staging
	records   RecordWriter
	history   HistoryStore
	reporter  *ProgressReporter
	validator *Validator
	committer *Committer
	limiter   *UploadLimiter
	opts      Options
	metrics   *pipelineMetrics

	newID func() string
	now   func() time.Time
}

// NewService wires a Service from deps.
func NewService(deps Deps, opts Options) *Service {
	opts = opts.withDefaults()

	registry := deps.Registry
	if registry == nil {
		registry = schema.Default()
	}
	staging := deps.Staging
	if staging == nil {
		staging = NopStaging{}
	}

	reporter := NewProgressReporter(staging, deps.Notifier)
	committer := NewCommitter(registry, staging, deps.Records, deps.History, reporter, opts.BatchSize)
	committer.timeout = opts.CommitTimeout

	return &Service{
		registry:  registry,
		staging:   staging,
		records:   deps.Records,
		history:   deps.History,
		reporter:  reporter,
		validator: NewValidator(registry, opts.ProgressInterval),
		committer: committer,
		limiter:   NewUploadLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:      opts,
		metrics:   newPipelineMetrics(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Registry returns the schema registry the service resolves data types with.
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// Submit accepts an upload and starts processing it in the background.
//
// It returns as soon as the data type is staged; parsing and validation
// have not happened yet. Unknown data types are rejected up front.
// ErrTooManyUploads is returned when no processing slot frees up in time.
func (s *Service) Submit(ctx context.Context, req UploadRequest) (string, error) {
	sc, err := s.registry.Lookup(req.DataType)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	uploadID := s.newID()
	s.staging.PutDataType(ctx, uploadID, sc.Type)

	logger := logging.WithUpload(ctx, uploadID, string(sc.Type), req.UserID)
	logger.Info("upload accepted", "filename", req.Filename, "bytes", len(req.Data))

	// The task outlives the request but keeps its values (request id).
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.TaskTimeout)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in upload processing", "panic", r)
				s.reporter.Fail(context.WithoutCancel(taskCtx), uploadID, req.UserID, fmt.Sprintf("Processing failed: internal error: %v", r))
				s.metrics.upload(taskCtx, string(sc.Type), "panic")
			}
		}()

		if _, err := s.ProcessUpload(taskCtx, uploadID, req.Filename, req.Data, string(sc.Type), req.UserID); err != nil {
			logger.Error("upload processing failed", "error", err)
		}
	}()

	return uploadID, nil
}

// ProcessUpload parses and validates an upload and stages the result.
//
// Any failure is reported as failed progress, recorded as a failed staged
// result and returned.
func (s *Service) ProcessUpload(ctx context.Context, uploadID, filename string, data []byte, dataType string, userID int64) (*ProcessingResult, error) {
	start := s.now()

	ctx, span := tracer.Start(ctx, "core.ProcessUpload")
	span.SetAttributes(attribute.String("upload_id", uploadID), attribute.String("data_type", dataType))
	defer span.End()

	logger := logging.WithUpload(ctx, uploadID, dataType, userID)

	result, err := s.process(ctx, logger, uploadID, filename, data, dataType, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		// A timed-out task still records its failure.
		ctx := context.WithoutCancel(ctx)
		s.reporter.Fail(ctx, uploadID, userID, "Processing failed: "+err.Error())
		s.staging.PutResult(ctx, uploadID, StagedUpload{
			Result: ProcessingResult{
				UploadID:    uploadID,
				Filename:    filename,
				DataType:    schema.DataType(dataType),
				UserID:      userID,
				Status:      StatusFailed,
				Errors:      []ValidationError{},
				Error:       err.Error(),
				ProcessedAt: s.now().UTC(),
			},
			Timestamp: s.now().UTC(),
		})
		s.metrics.upload(ctx, dataType, "failed")
		return nil, err
	}

	took := s.now().Sub(start)
	s.metrics.upload(ctx, dataType, "validated")
	s.metrics.validated(ctx, dataType, ValidationResult{ValidRows: result.ValidRows, InvalidRows: result.InvalidRows}, took)
	logger.Info("upload validated",
		"rows", result.TotalRows,
		"valid", result.ValidRows,
		"invalid", result.InvalidRows,
		"duration", took,
	)

	return result, nil
}

func (s *Service) process(ctx context.Context, logger *slog.Logger, uploadID, filename string, data []byte, dataType string, userID int64) (*ProcessingResult, error) {
	sc, err := s.registry.Lookup(dataType)
	if err != nil {
		return nil, err
	}

	s.reporter.Report(ctx, uploadID, userID, Progress{
		Stage:      StageParsing,
		Percentage: 10,
		Message:    "Parsing CSV file...",
	})

	rows, err := ParseCSV(data)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrEmptyFile)
	}
	total := len(rows) - 1
	logger.Debug("csv parsed", "rows", total, "columns", len(rows[0]))

	s.reporter.Report(ctx, uploadID, userID, Progress{
		Stage:      StageValidating,
		Percentage: validateProgressStart,
		Message:    fmt.Sprintf("Validating %d rows...", total),
		TotalRows:  total,
	})

	vr, err := s.validator.Validate(ctx, rows, string(sc.Type), s.reporter.Func(ctx, uploadID, userID))
	if err != nil {
		return nil, err
	}

	result := ProcessingResult{
		UploadID:    uploadID,
		Filename:    filename,
		DataType:    sc.Type,
		UserID:      userID,
		Status:      StatusValidated,
		TotalRows:   total,
		ValidRows:   vr.ValidRows,
		InvalidRows: vr.InvalidRows,
		Errors:      vr.Errors,
		Preview:     buildPreview(rows, s.opts.PreviewRows),
		ProcessedAt: s.now().UTC(),
	}

	s.staging.PutResult(ctx, uploadID, StagedUpload{
		Result:    result,
		Dataset:   rows,
		Timestamp: result.ProcessedAt,
	})

	inline := vr.Errors
	if len(inline) > s.opts.InlineErrors {
		inline = inline[:s.opts.InlineErrors]
	}
	s.reporter.Report(ctx, uploadID, userID, Progress{
		Stage:         StageCompleted,
		Percentage:    100,
		Message:       "Validation completed",
		RowsProcessed: total,
		TotalRows:     total,
		Errors:        inline,
	})

	return &result, nil
}

// CommitData writes the committable rows of a staged upload. See Committer.Commit.
func (s *Service) CommitData(ctx context.Context, uploadID string, userID int64) (CommitSummary, error) {
	if s.records == nil {
		return CommitSummary{}, errors.New("commit: no record store configured")
	}

	summary, err := s.committer.Commit(ctx, uploadID, userID)
	if err != nil {
		logging.WithFields(ctx, "upload_id", uploadID, "user_id", userID).
			Warn("commit rejected or failed", "error", err)
		return CommitSummary{}, err
	}
	return summary, nil
}

// Progress returns the last stored progress snapshot.
func (s *Service) Progress(ctx context.Context, uploadID string) (Progress, bool) {
	return s.staging.GetProgress(ctx, uploadID)
}

// Result returns the staged result without its raw rows.
func (s *Service) Result(ctx context.Context, uploadID string) (ProcessingResult, bool) {
	staged, ok := s.staging.GetResult(ctx, uploadID)
	if !ok {
		return ProcessingResult{}, false
	}
	return staged.Result, true
}

// ExportErrors writes the validation issues of a staged upload to w as a
// CSV or XLSX report.
func (s *Service) ExportErrors(ctx context.Context, uploadID string, w io.Writer, format string) error {
	staged, ok := s.staging.GetResult(ctx, uploadID)
	if !ok {
		return fmt.Errorf("export %s: %w", uploadID, ErrUploadNotFound)
	}
	return WriteErrorReport(w, format, staged.Result.Errors)
}

// DeleteUpload removes every staged entry for the upload.
// Committed destination rows are not touched.
func (s *Service) DeleteUpload(ctx context.Context, uploadID string) {
	s.staging.Delete(ctx, uploadID)
	logging.WithFields(ctx, "upload_id", uploadID).Info("staged upload deleted")
}

// RollbackUpload deletes every destination row written by the upload and
// marks its history rolled back. An upload that is still staged is re-opened
// for commit; one whose rows were already dropped becomes rolled_back.
//
// Rollback holds the commit claim while it runs. It is refused with
// ErrCommitInProgress while another commit is writing batches.
func (s *Service) RollbackUpload(ctx context.Context, uploadID string) (RollbackResult, error) {
	if s.records == nil {
		return RollbackResult{}, errors.New("rollback: no record store configured")
	}

	var (
		dt      schema.DataType
		hist    HistoryRecord
		hasHist bool
	)
	if s.history != nil {
		h, ok, err := s.history.GetHistory(ctx, uploadID)
		if err != nil {
			return RollbackResult{}, fmt.Errorf("rollback %s: load history: %w", uploadID, err)
		}
		if ok {
			if h.Status == HistoryRolledBack {
				return RollbackResult{}, fmt.Errorf("rollback %s: %w", uploadID, ErrAlreadyRolledBack)
			}
			hist, hasHist, dt = h, true, h.DataType
		}
	}
	if dt == "" {
		staged, ok := s.staging.GetDataType(ctx, uploadID)
		if !ok {
			return RollbackResult{}, fmt.Errorf("rollback %s: %w", uploadID, ErrUploadNotFound)
		}
		dt = staged
	}

	sc, err := s.registry.Lookup(string(dt))
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", uploadID, err)
	}

	// A held claim on a result that is neither committed nor failed belongs
	// to a commit that is still writing.
	claimed, err := s.staging.ClaimCommit(ctx, uploadID)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: claim: %w", uploadID, err)
	}
	staged, hasStaged := s.staging.GetResult(ctx, uploadID)
	if !claimed && hasStaged &&
		staged.Result.Status != StatusCommitted && staged.Result.Status != StatusFailed {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", uploadID, ErrCommitInProgress)
	}

	deleted, err := s.records.DeleteByUpload(ctx, sc, uploadID)
	if err != nil {
		if claimed {
			s.staging.ReleaseCommit(ctx, uploadID)
		}
		return RollbackResult{}, fmt.Errorf("rollback %s: delete rows: %w", uploadID, err)
	}

	// Rows are gone from here on; finish the bookkeeping regardless of ctx.
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithFields(ctx, "upload_id", uploadID, "data_type", dt)
	now := s.now().UTC()

	if hasHist {
		hist.Status = HistoryRolledBack
		hist.UpdatedAt = now
		if err := s.history.SaveHistory(ctx, hist); err != nil {
			// Rows are already gone; report but keep the rollback.
			logger.Error("mark history rolled back failed", "error", err)
		}
	}

	status := StatusRolledBack
	if hasStaged {
		if staged.Dataset != nil {
			status = StatusValidated
		}
		staged.Result.Status = status
		staged.Result.CommittedRows = 0
		staged.Result.Error = ""
		staged.Timestamp = now
		s.staging.PutResult(ctx, uploadID, staged)
	}
	s.staging.ReleaseCommit(ctx, uploadID)

	logger.Info("upload rolled back", "rows_deleted", deleted, "status", status)

	return RollbackResult{UploadID: uploadID, DataType: dt, RowsDeleted: deleted, Status: status}, nil
}

// History returns a page of upload history.
func (s *Service) History(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	if s.history == nil {
		return HistoryPage{Uploads: []HistoryRecord{}, Page: q.Page, Limit: q.Limit}, nil
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	return s.history.ListHistory(ctx, q)
}

// WaitForUploads blocks until background processing drains or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports background task slots.
func (s *Service) LimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// buildPreview returns up to n data rows keyed by header, each tagged with
// its 1-based file row number.
func buildPreview(rows [][]string, n int) []PreviewRow {
	if len(rows) < 2 || n == 0 {
		return []PreviewRow{}
	}
	header := rows[0]
	data := rows[1:]
	if len(data) > n {
		data = data[:n]
	}

	preview := make([]PreviewRow, 0, len(data))
	for i, row := range data {
		p := PreviewRow{"_rowNumber": i + 2}
		for j, col := range header {
			if col == "" {
				continue
			}
			if _, dup := p[col]; dup {
				continue
			}
			p[col] = cellAt(row, j)
		}
		preview = append(preview, p)
	}
	return preview
}
