// Package core implements the livpulse CSV ingestion pipeline.
//
// An upload moves through parse, validate, stage, review and commit:
//
//  1. [Service.Submit] stores the declared data type and starts
//     [Service.ProcessUpload] on a background goroutine, returning the
//     upload id at once.
//  2. [ParseCSV] turns the bytes into rows; the [Validator] classifies every
//     data row against its [schema.Schema] and emits progress as it goes.
//  3. The result, preview and raw rows are written to the [Staging] store,
//     keyed by upload id, where clients review them.
//  4. [Service.CommitData] hands the staged rows to the [Committer], which
//     drops invalid rows, transforms the rest and writes them in sequential
//     batches through a [RecordWriter].
//
// # Progress
//
// Every stage reports through a [ProgressReporter], which persists the
// snapshot in staging and pushes it to the owning user through a
// [Notifier]. Reporting never fails the pipeline.
//
// Validation reports in the 30-90% band, commit in the 10-90% band, and
// each phase ends with a completed event at 100%. Failures report stage
// failed at 0%.
//
// # Partial commits
//
// Batches are not wrapped in a shared transaction. When a batch fails the
// earlier batches stay written, the error is a [*CommitBatchError] naming the
// failed batch, and a history record with status failed is saved. The
// recovery path is [Service.RollbackUpload], which deletes every row tagged
// with the upload id and re-opens the upload for commit.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]:
//
//   - CSV001-CSV005: parsing and validation
//   - STG001-STG004: staged upload lookups
//   - COM001-COM004: commit
//   - DB001-DB007: database
//   - UPL001-UPL005: upload session and limits
package core
