package core

import (
	"time"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// Stage is the lifecycle phase reported in progress events.
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageValidating Stage = "validating"
	StageCommitting Stage = "committing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Progress is the snapshot stored per upload and pushed to clients.
type Progress struct {
	Stage         Stage             `json:"stage"`
	Percentage    int               `json:"percentage"`
	Message       string            `json:"message"`
	RowsProcessed int               `json:"rowsProcessed,omitempty"`
	TotalRows     int               `json:"totalRows,omitempty"`
	Errors        []ValidationError `json:"errors,omitempty"`
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// Severity classifies a ValidationError.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// HeaderRow is the row number used for header-level issues.
const HeaderRow = 1

// ValidationError describes one problem found in an upload.
// Row is 1 for the header; the first data row is 2.
type ValidationError struct {
	Row      int      `json:"row"`
	Column   string   `json:"column"`
	Value    string   `json:"value"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult is the outcome of validating all data rows.
// ValidRows + InvalidRows equals the number of data rows.
type ValidationResult struct {
	ValidRows   int               `json:"validRows"`
	InvalidRows int               `json:"invalidRows"`
	Errors      []ValidationError `json:"errors"`
}

// Status is the lifecycle status of a staged upload.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusValidated  Status = "validated"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"

	// StatusRolledBack marks a committed upload whose rows were removed and
	// whose raw rows are no longer staged.
	StatusRolledBack Status = "rolled_back"
)

// PreviewRow is a data row keyed by header name, tagged with "_rowNumber".
type PreviewRow map[string]any

// ProcessingResult is what clients review before committing.
type ProcessingResult struct {
	UploadID      string            `json:"uploadId"`
	Filename      string            `json:"filename"`
	DataType      schema.DataType   `json:"dataType"`
	UserID        int64             `json:"userId"`
	Status        Status            `json:"status"`
	TotalRows     int               `json:"totalRows"`
	ValidRows     int               `json:"validRows"`
	InvalidRows   int               `json:"invalidRows"`
	Errors        []ValidationError `json:"errors"`
	Preview       []PreviewRow      `json:"preview"`
	CommittedRows int               `json:"committedRows,omitempty"`
	Error         string            `json:"error,omitempty"`
	ProcessedAt   time.Time         `json:"processedAt"`
}

// ErrorRows returns the row numbers carrying at least one error-severity issue.
func (r ProcessingResult) ErrorRows() map[int]struct{} {
	rows := make(map[int]struct{})
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			rows[e.Row] = struct{}{}
		}
	}
	return rows
}

// HeaderErrors returns the error-severity issues reported against the header.
func (r ProcessingResult) HeaderErrors() []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Row == HeaderRow && e.Severity == SeverityError {
			out = append(out, e)
		}
	}
	return out
}

// StagedUpload is the staged result plus the raw parsed rows (header first).
// Dataset is dropped once the upload is committed.
type StagedUpload struct {
	Result    ProcessingResult `json:"result"`
	Dataset   [][]string       `json:"parsedData,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// HistoryStatus is the status kept in the durable upload history.
type HistoryStatus string

const (
	HistoryCompleted  HistoryStatus = "completed"
	HistoryFailed     HistoryStatus = "failed"
	HistoryRolledBack HistoryStatus = "rolled_back"
)

// HistoryRecord is the durable record of a commit attempt.
type HistoryRecord struct {
	UploadID      string          `json:"uploadId"`
	Filename      string          `json:"filename"`
	DataType      schema.DataType `json:"dataType"`
	TotalRows     int             `json:"totalRows"`
	ValidRows     int             `json:"validRows"`
	InvalidRows   int             `json:"invalidRows"`
	CommittedRows int             `json:"committedRows"`
	Status        HistoryStatus   `json:"status"`
	Error         string          `json:"error,omitempty"`
	UploadedBy    int64           `json:"uploadedBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// HistoryQuery selects a page of upload history.
// A zero UserID lists every user's uploads.
type HistoryQuery struct {
	UserID int64
	Page   int
	Limit  int
}

// HistoryPage is one page of upload history.
type HistoryPage struct {
	Uploads []HistoryRecord `json:"uploads"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
	Total   int64           `json:"total"`
}

// Pages returns the number of pages for the query's limit.
func (p HistoryPage) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Limit) - 1) / int64(p.Limit))
}

// CommitSummary reports a successful commit.
type CommitSummary struct {
	UploadID      string          `json:"uploadId"`
	DataType      schema.DataType `json:"dataType"`
	CommittedRows int             `json:"committedRows"`
	SkippedRows   int             `json:"skippedRows"`
	Batches       int             `json:"batches"`
	Duration      time.Duration   `json:"-"`
}

// RollbackResult reports the rows removed for an upload.
type RollbackResult struct {
	UploadID    string          `json:"uploadId"`
	DataType    schema.DataType `json:"dataType"`
	RowsDeleted int64           `json:"rowsDeleted"`
	// Status is the staged status after rollback: validated when the upload
	// can be committed again, rolled_back otherwise.
	Status Status `json:"status"`
}
