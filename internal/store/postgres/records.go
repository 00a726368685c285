package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// WriteBatch copies records into the schema's table in one transaction.
// Column order is schema.InsertColumns; absent keys are written as NULL.
func (s *Store) WriteBatch(ctx context.Context, sc schema.Schema, records []schema.Record) error {
	if len(records) == 0 {
		return nil
	}

	cols := sc.InsertColumns()
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(cols))
		for j, col := range cols {
			row[j] = rec[col]
		}
		rows[i] = row
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{sc.Table}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", sc.Table, err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", sc.Table, n, len(records))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s batch: %w", sc.Table, err)
	}
	return nil
}

// DeleteByUpload removes every row in the schema's table tagged with uploadID.
func (s *Store) DeleteByUpload(ctx context.Context, sc schema.Schema, uploadID string) (int64, error) {
	query := `DELETE FROM ` + pgx.Identifier{sc.Table}.Sanitize() + ` WHERE upload_id = $1`

	tag, err := s.pool.Exec(ctx, query, uploadID)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", sc.Table, err)
	}
	return tag.RowsAffected(), nil
}
