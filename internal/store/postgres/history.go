package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

const historyColumns = `upload_id, filename, data_type, total_rows, valid_rows, invalid_rows,
	committed_rows, status, error, uploaded_by, created_at, updated_at`

// SaveHistory upserts rec by upload id. created_at is kept from the first insert.
func (s *Store) SaveHistory(ctx context.Context, rec core.HistoryRecord) error {
	query := `
		INSERT INTO csv_uploads (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (upload_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			data_type = EXCLUDED.data_type,
			total_rows = EXCLUDED.total_rows,
			valid_rows = EXCLUDED.valid_rows,
			invalid_rows = EXCLUDED.invalid_rows,
			committed_rows = EXCLUDED.committed_rows,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.UploadID, rec.Filename, string(rec.DataType),
		rec.TotalRows, rec.ValidRows, rec.InvalidRows, rec.CommittedRows,
		string(rec.Status), nullString(rec.Error), rec.UploadedBy,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save history %s: %w", rec.UploadID, err)
	}
	return nil
}

// GetHistory loads the record for uploadID. ok is false when none exists.
func (s *Store) GetHistory(ctx context.Context, uploadID string) (core.HistoryRecord, bool, error) {
	query := `SELECT ` + historyColumns + ` FROM csv_uploads WHERE upload_id = $1`

	rec, err := scanHistory(s.db.QueryRowContext(ctx, query, uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.HistoryRecord{}, false, nil
	}
	if err != nil {
		return core.HistoryRecord{}, false, fmt.Errorf("get history %s: %w", uploadID, err)
	}
	return rec, true, nil
}

// ListHistory returns one page of history, newest first. A zero q.UserID
// lists every user.
func (s *Store) ListHistory(ctx context.Context, q core.HistoryQuery) (core.HistoryPage, error) {
	page := core.HistoryPage{Uploads: []core.HistoryRecord{}, Page: q.Page, Limit: q.Limit}

	countQuery := `SELECT count(*) FROM csv_uploads WHERE ($1 = 0 OR uploaded_by = $1)`
	if err := s.db.QueryRowContext(ctx, countQuery, q.UserID).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count history: %w", err)
	}

	query := `
		SELECT ` + historyColumns + `
		FROM csv_uploads
		WHERE ($1 = 0 OR uploaded_by = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, q.UserID, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return page, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return page, fmt.Errorf("scan history: %w", err)
		}
		page.Uploads = append(page.Uploads, rec)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("list history: %w", err)
	}

	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (core.HistoryRecord, error) {
	var (
		rec      core.HistoryRecord
		dataType string
		status   string
		errMsg   sql.NullString
	)
	err := row.Scan(
		&rec.UploadID, &rec.Filename, &dataType,
		&rec.TotalRows, &rec.ValidRows, &rec.InvalidRows, &rec.CommittedRows,
		&status, &errMsg, &rec.UploadedBy,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return core.HistoryRecord{}, err
	}
	rec.DataType = schema.DataType(dataType)
	rec.Status = core.HistoryStatus(status)
	rec.Error = errMsg.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
