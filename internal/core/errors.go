package core

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks input that could not be decoded as CSV.
	ErrParse = errors.New("invalid csv")

	// ErrEmptyFile marks an upload without data rows.
	ErrEmptyFile = errors.New("empty file")

	// ErrNoStagedData is returned when a commit finds no staged rows for the upload.
	ErrNoStagedData = errors.New("no staged data for upload")

	// ErrNoDataType is returned when a commit finds no staged data type.
	ErrNoDataType = errors.New("no data type for upload")

	// ErrMissingColumns is returned when committing an upload whose header lacks required columns.
	ErrMissingColumns = errors.New("missing required column")

	// ErrAlreadyCommitted is returned when committing an upload twice.
	ErrAlreadyCommitted = errors.New("upload already committed")

	// ErrCommitInProgress is returned when another commit holds the upload.
	ErrCommitInProgress = errors.New("commit already in progress for upload")

	// ErrCommitBatchFailed matches any *CommitBatchError.
	ErrCommitBatchFailed = errors.New("commit batch failed")

	// ErrUploadNotFound is returned when nothing is known about an upload id.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrAlreadyRolledBack is returned when rolling back an upload twice.
	ErrAlreadyRolledBack = errors.New("upload already rolled back")
)

// CommitBatchError reports the batch that failed during a commit.
// Batches before BatchIndex were written and remain in place.
type CommitBatchError struct {
	BatchIndex int // 0-indexed
	Batches    int
	Committed  int // records written before the failure
	Err        error
}

func (e *CommitBatchError) Error() string {
	return fmt.Sprintf("commit batch %d of %d failed after %d records: %v",
		e.BatchIndex+1, e.Batches, e.Committed, e.Err)
}

func (e *CommitBatchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCommitBatchFailed) hold for any CommitBatchError.
func (e *CommitBatchError) Is(target error) bool {
	return target == ErrCommitBatchFailed
}
