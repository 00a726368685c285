package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

func TestCommit_Success(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 100})
	ctx := context.Background()
	env.stage(t, "u1", kpiCSV(250))

	summary, err := env.svc.CommitData(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("CommitData() error = %v", err)
	}
	if summary.CommittedRows != 250 || summary.Batches != 3 || summary.SkippedRows != 0 {
		t.Errorf("summary = %+v", summary)
	}

	rows := env.records.snapshot()
	if len(rows) != 250 {
		t.Fatalf("records written = %d, want 250", len(rows))
	}
	for _, col := range schema.TagColumns {
		if _, ok := rows[0][col]; !ok {
			t.Errorf("record missing tag column %s", col)
		}
	}
	if rows[0]["upload_id"] != "u1" || rows[0]["uploaded_by"] != int64(7) {
		t.Errorf("tags = %v / %v", rows[0]["upload_id"], rows[0]["uploaded_by"])
	}

	staged, ok := env.staging.GetResult(ctx, "u1")
	if !ok || staged.Result.Status != StatusCommitted || staged.Result.CommittedRows != 250 {
		t.Errorf("staged result = %+v, %v", staged.Result, ok)
	}
	if staged.Dataset != nil {
		t.Error("raw rows should be dropped after commit")
	}

	hist, ok, _ := env.history.GetHistory(ctx, "u1")
	if !ok || hist.Status != HistoryCompleted || hist.CommittedRows != 250 {
		t.Errorf("history = %+v, %v", hist, ok)
	}

	events := env.notifier.progress("u1")
	last := events[len(events)-1]
	if last.Stage != StageCompleted || last.Percentage != 100 || last.Message != "Successfully committed 250 rows" {
		t.Errorf("last event = %+v", last)
	}

	var commit []int
	for _, p := range events {
		if p.Stage == StageCommitting {
			commit = append(commit, p.Percentage)
		}
	}
	want := []int{10, 36, 63, 90}
	if len(commit) != len(want) {
		t.Fatalf("committing percentages = %v, want %v", commit, want)
	}
	for i := range want {
		if commit[i] != want[i] {
			t.Errorf("committing percentages = %v, want %v", commit, want)
			break
		}
	}
}

func TestCommit_SkipsErrorRows(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.stage(t, "u1", kpiCSV(6, 3, 5))

	summary, err := env.svc.CommitData(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("CommitData() error = %v", err)
	}
	if summary.CommittedRows != 4 || summary.SkippedRows != 2 {
		t.Errorf("summary = %+v, want 4 committed / 2 skipped", summary)
	}

	for _, r := range env.records.snapshot() {
		if name := r["metric_name"]; name == "metric-3" || name == "metric-5" {
			t.Errorf("invalid row %v was committed", name)
		}
	}
}

func TestCommit_WarningsDoNotBlockRows(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.stage(t, "u1", []byte("metric_name,value,period,foo\nA,1,2024-01,x\n"))

	summary, err := env.svc.CommitData(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("CommitData() error = %v", err)
	}
	if summary.CommittedRows != 1 {
		t.Errorf("CommittedRows = %d, want 1", summary.CommittedRows)
	}
	if _, ok := env.records.snapshot()[0]["foo"]; ok {
		t.Error("unknown column leaked into the record")
	}
}

func TestCommit_BatchFailure(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 100})
	ctx := context.Background()
	env.stage(t, "u1", kpiCSV(250))
	env.records.failAt = 1

	_, err := env.svc.CommitData(ctx, "u1", 7)

	var batchErr *CommitBatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("CommitData() error = %v, want *CommitBatchError", err)
	}
	if !errors.Is(err, ErrCommitBatchFailed) {
		t.Error("error should match ErrCommitBatchFailed")
	}
	if batchErr.BatchIndex != 1 || batchErr.Batches != 3 || batchErr.Committed != 100 {
		t.Errorf("batch error = %+v", batchErr)
	}

	if env.records.calls != 2 {
		t.Errorf("WriteBatch calls = %d, want 2 (third batch never attempted)", env.records.calls)
	}
	if n := len(env.records.snapshot()); n != 100 {
		t.Errorf("records persisted = %d, want 100 from the first batch", n)
	}

	events := env.notifier.progress("u1")
	if last := events[len(events)-1]; last.Stage != StageFailed {
		t.Errorf("last event = %+v, want failed", last)
	}

	staged, _ := env.staging.GetResult(ctx, "u1")
	if staged.Result.Status != StatusFailed || staged.Dataset == nil {
		t.Errorf("staged = status %s, dataset kept %v", staged.Result.Status, staged.Dataset != nil)
	}

	hist, ok, _ := env.history.GetHistory(ctx, "u1")
	if !ok || hist.Status != HistoryFailed || hist.CommittedRows != 100 || hist.Error == "" {
		t.Errorf("history = %+v, %v", hist, ok)
	}

	// The claim is held until the partial write is rolled back.
	if _, err := env.svc.CommitData(ctx, "u1", 7); !errors.Is(err, ErrCommitInProgress) {
		t.Errorf("retry without rollback error = %v, want ErrCommitInProgress", err)
	}
}

func TestCommit_RollbackThenRetry(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 100})
	ctx := context.Background()
	env.stage(t, "u1", kpiCSV(250))
	env.records.failAt = 1

	if _, err := env.svc.CommitData(ctx, "u1", 7); err == nil {
		t.Fatal("CommitData() expected batch failure")
	}

	rb, err := env.svc.RollbackUpload(ctx, "u1")
	if err != nil {
		t.Fatalf("RollbackUpload() error = %v", err)
	}
	if rb.RowsDeleted != 100 || rb.DataType != schema.KPIMetrics || rb.Status != StatusValidated {
		t.Errorf("rollback = %+v", rb)
	}
	if n := len(env.records.snapshot()); n != 0 {
		t.Errorf("records after rollback = %d, want 0", n)
	}
	if hist, _, _ := env.history.GetHistory(ctx, "u1"); hist.Status != HistoryRolledBack {
		t.Errorf("history status = %s, want rolled_back", hist.Status)
	}
	if res, _ := env.svc.Result(ctx, "u1"); res.Status != StatusValidated {
		t.Errorf("status after rollback = %s, want validated", res.Status)
	}

	env.records.failAt = -1
	summary, err := env.svc.CommitData(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("retry CommitData() error = %v", err)
	}
	if summary.CommittedRows != 250 {
		t.Errorf("retry committed %d, want 250", summary.CommittedRows)
	}
}

func TestCommit_CallerCancelDoesNotStopCommit(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 100})
	env.stage(t, "u1", kpiCSV(250))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The client goes away once the first batch is written.
	env.records.before = func(_ context.Context, call int) error {
		if call == 1 {
			cancel()
		}
		return nil
	}

	summary, err := env.svc.CommitData(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("CommitData() error = %v", err)
	}
	if summary.CommittedRows != 250 {
		t.Errorf("committed %d, want 250", summary.CommittedRows)
	}
	if n := len(env.records.snapshot()); n != 250 {
		t.Errorf("records written = %d, want 250", n)
	}

	bg := context.Background()
	if hist, ok, _ := env.history.GetHistory(bg, "u1"); !ok || hist.Status != HistoryCompleted {
		t.Errorf("history = %+v, %v, want completed", hist, ok)
	}
	if res, _ := env.svc.Result(bg, "u1"); res.Status != StatusCommitted {
		t.Errorf("status = %s, want committed", res.Status)
	}
}

func TestCommit_TimeoutRecordsFailure(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 100, CommitTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	env.stage(t, "u1", kpiCSV(250))

	// The second batch stalls until the commit deadline passes.
	env.records.before = func(ctx context.Context, call int) error {
		if call == 1 {
			<-ctx.Done()
		}
		return nil
	}

	_, err := env.svc.CommitData(ctx, "u1", 7)

	var batchErr *CommitBatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("CommitData() error = %v, want *CommitBatchError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want it to wrap context.DeadlineExceeded", err)
	}
	if batchErr.BatchIndex != 1 || batchErr.Committed != 100 {
		t.Errorf("batch error = %+v", batchErr)
	}
	if n := len(env.records.snapshot()); n != 100 {
		t.Errorf("records written = %d, want 100", n)
	}

	hist, ok, _ := env.history.GetHistory(ctx, "u1")
	if !ok || hist.Status != HistoryFailed || hist.CommittedRows != 100 {
		t.Errorf("history = %+v, %v, want failed with 100 rows", hist, ok)
	}

	staged, _ := env.staging.GetResult(ctx, "u1")
	if staged.Result.Status != StatusFailed || staged.Dataset == nil {
		t.Errorf("staged = status %s, dataset kept %v", staged.Result.Status, staged.Dataset != nil)
	}

	events := env.notifier.progress("u1")
	if last := events[len(events)-1]; last.Stage != StageFailed {
		t.Errorf("last event = %+v, want failed", last)
	}
}

func TestCommit_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, env *testEnv)
		want       error
		wantFailed bool
	}{
		{
			name:       "unknown upload",
			setup:      func(*testing.T, *testEnv) {},
			want:       ErrNoStagedData,
			wantFailed: true,
		},
		{
			name: "no data type",
			setup: func(t *testing.T, env *testEnv) {
				env.staging.PutResult(context.Background(), "u1", StagedUpload{
					Result:  ProcessingResult{UploadID: "u1", Status: StatusValidated},
					Dataset: [][]string{{"metric_name", "value", "period"}, {"a", "1", "2024-01"}},
				})
			},
			want:       ErrNoDataType,
			wantFailed: true,
		},
		{
			name: "missing required column",
			setup: func(t *testing.T, env *testEnv) {
				env.stage(t, "u1", []byte("metric_name,value\nA,1\n"))
			},
			want:       ErrMissingColumns,
			wantFailed: true,
		},
		{
			name: "already committed",
			setup: func(t *testing.T, env *testEnv) {
				env.stage(t, "u1", kpiCSV(3))
				if _, err := env.svc.CommitData(context.Background(), "u1", 7); err != nil {
					t.Fatal(err)
				}
			},
			want: ErrAlreadyCommitted,
		},
		{
			name: "commit in progress",
			setup: func(t *testing.T, env *testEnv) {
				env.stage(t, "u1", kpiCSV(3))
				env.staging.ClaimCommit(context.Background(), "u1")
			},
			want: ErrCommitInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			tt.setup(t, env)
			before := len(env.notifier.progress("u1"))

			_, err := env.svc.CommitData(context.Background(), "u1", 7)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CommitData() error = %v, want %v", err, tt.want)
			}

			events := env.notifier.progress("u1")
			failed := len(events) > before && events[len(events)-1].Stage == StageFailed
			if failed != tt.wantFailed {
				t.Errorf("failed progress emitted = %v, want %v", failed, tt.wantFailed)
			}
		})
	}
}

func TestCommitBatchError_Message(t *testing.T) {
	err := &CommitBatchError{BatchIndex: 1, Batches: 3, Committed: 100, Err: errors.New("deadlock detected")}
	want := "commit batch 2 of 3 failed after 100 records: deadlock detected"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
