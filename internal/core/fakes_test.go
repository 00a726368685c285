package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// recordingNotifier keeps every pushed progress message.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []ProgressMessage
	users    []int64
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg, ok := payload.(ProgressMessage); ok && event == ProgressEvent {
		n.messages = append(n.messages, msg)
		n.users = append(n.users, userID)
	}
	return n.err
}

func (n *recordingNotifier) progress(uploadID string) []Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Progress
	for _, m := range n.messages {
		if m.UploadID == uploadID {
			out = append(out, m.Progress)
		}
	}
	return out
}

// fakeRecords stores batches in memory and fails the batch at failAt (0-indexed).
// When set, before runs ahead of each batch with the batch's context and
// index; a non-nil result fails the batch.
type fakeRecords struct {
	mu      sync.Mutex
	rows    []schema.Record
	calls   int
	failAt  int
	written map[schema.DataType]int
	before  func(ctx context.Context, call int) error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{failAt: -1, written: map[schema.DataType]int{}}
}

func (f *fakeRecords) WriteBatch(ctx context.Context, s schema.Schema, records []schema.Record) error {
	f.mu.Lock()
	call := f.calls
	f.calls++
	before := f.before
	f.mu.Unlock()

	if before != nil {
		if err := before(ctx, call); err != nil {
			return err
		}
	}
	// Like a pgx COPY, a done context fails the write.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if call == f.failAt {
		return errors.New("write batch: connection reset by peer")
	}
	f.rows = append(f.rows, records...)
	f.written[s.Type] += len(records)
	return nil
}

func (f *fakeRecords) DeleteByUpload(_ context.Context, _ schema.Schema, uploadID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var deleted int64
	for _, r := range f.rows {
		if r["upload_id"] == uploadID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

func (f *fakeRecords) snapshot() []schema.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.Record, len(f.rows))
	copy(out, f.rows)
	return out
}

// fakeHistory keeps history records by upload id. Like database/sql, it
// refuses to run on a done context.
type fakeHistory struct {
	mu   sync.Mutex
	recs map[string]HistoryRecord
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{recs: map[string]HistoryRecord{}}
}

func (h *fakeHistory) SaveHistory(ctx context.Context, rec HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs[rec.UploadID] = rec
	return nil
}

func (h *fakeHistory) GetHistory(ctx context.Context, uploadID string) (HistoryRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return HistoryRecord{}, false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.recs[uploadID]
	return rec, ok, nil
}

func (h *fakeHistory) ListHistory(_ context.Context, q HistoryQuery) (HistoryPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var all []HistoryRecord
	for _, r := range h.recs {
		if q.UserID == 0 || r.UploadedBy == q.UserID {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadID < all[j].UploadID })

	page := HistoryPage{Uploads: []HistoryRecord{}, Page: q.Page, Limit: q.Limit, Total: int64(len(all))}
	lo := (q.Page - 1) * q.Limit
	if lo < len(all) {
		page.Uploads = all[lo:min(lo+q.Limit, len(all))]
	}
	return page, nil
}

// kpiCSV builds a kpi_metrics file with n data rows. Rows listed in bad
// (by data row number, first data row = 2) get a non-numeric value.
func kpiCSV(n int, bad ...int) []byte {
	badRows := make(map[int]bool, len(bad))
	for _, b := range bad {
		badRows[b] = true
	}

	var sb strings.Builder
	sb.WriteString("metric_name,value,period\n")
	for i := 0; i < n; i++ {
		row := i + 2
		value := fmt.Sprintf("%d.5", i)
		if badRows[row] {
			value = "notanumber"
		}
		fmt.Fprintf(&sb, "metric-%d,%s,2024-01\n", row, value)
	}
	return []byte(sb.String())
}

type testEnv struct {
	svc      *Service
	staging  *MemoryStaging
	notifier *recordingNotifier
	records  *fakeRecords
	history  *fakeHistory
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		staging:  NewMemoryStaging(64, 0, 0),
		notifier: &recordingNotifier{},
		records:  newFakeRecords(),
		history:  newFakeHistory(),
	}
	env.svc = NewService(Deps{
		Registry: schema.Default(),
		Staging:  env.staging,
		Notifier: env.notifier,
		Records:  env.records,
		History:  env.history,
	}, opts)
	return env
}

// stage runs ProcessUpload synchronously for a kpi_metrics file.
func (e *testEnv) stage(t *testing.T, uploadID string, data []byte) *ProcessingResult {
	t.Helper()
	ctx := context.Background()
	e.staging.PutDataType(ctx, uploadID, schema.KPIMetrics)
	res, err := e.svc.ProcessUpload(ctx, uploadID, "metrics.csv", data, string(schema.KPIMetrics), 7)
	if err != nil {
		t.Fatalf("ProcessUpload() error = %v", err)
	}
	return res
}
