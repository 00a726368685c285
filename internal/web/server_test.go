package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/config"
	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

const testSecret = "0123456789abcdef-test"

var (
	owner = auth.User{ID: 7, Email: "pm@livpulse.dev", Role: auth.RolePM}
	other = auth.User{ID: 8, Email: "em@livpulse.dev", Role: auth.RoleEM}
	admin = auth.User{ID: 1, Email: "admin@livpulse.dev", Role: auth.RoleAdmin}
	exec  = auth.User{ID: 9, Email: "exec@livpulse.dev", Role: auth.RoleExecutive}
)

// =============================================================================
// Fakes
// =============================================================================

type memRecords struct {
	mu   sync.Mutex
	rows map[string][]schema.Record
}

func (m *memRecords) WriteBatch(_ context.Context, _ schema.Schema, records []schema.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		id, _ := rec["upload_id"].(string)
		m.rows[id] = append(m.rows[id], rec)
	}
	return nil
}

func (m *memRecords) DeleteByUpload(_ context.Context, _ schema.Schema, uploadID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[uploadID])
	delete(m.rows, uploadID)
	return int64(n), nil
}

type memHistory struct {
	mu   sync.Mutex
	recs map[string]core.HistoryRecord
}

func (h *memHistory) SaveHistory(_ context.Context, rec core.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs[rec.UploadID] = rec
	return nil
}

func (h *memHistory) GetHistory(_ context.Context, uploadID string) (core.HistoryRecord, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.recs[uploadID]
	return rec, ok, nil
}

func (h *memHistory) ListHistory(_ context.Context, q core.HistoryQuery) (core.HistoryPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var all []core.HistoryRecord
	for _, rec := range h.recs {
		if q.UserID == 0 || rec.UploadedBy == q.UserID {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadID < all[j].UploadID })

	page := core.HistoryPage{Page: q.Page, Limit: q.Limit, Total: int64(len(all)), Uploads: []core.HistoryRecord{}}
	start := (q.Page - 1) * q.Limit
	if start < len(all) {
		page.Uploads = all[start:min(start+q.Limit, len(all))]
	}
	return page, nil
}

// =============================================================================
// Harness
// =============================================================================

type testServer struct {
	srv      *Server
	svc      *core.Service
	staging  *core.MemoryStaging
	history  *memHistory
	verifier *auth.Verifier
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeout: 10 * time.Second, ShutdownTimeout: time.Second},
		Upload:   config.UploadConfig{MaxFileSize: 1 << 20},
		Rate:     config.RateLimitConfig{Enabled: false},
		Security: config.SecurityConfig{JWTSecret: testSecret, AllowedOrigins: []string{"http://localhost:3000"}},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts Options) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	ts := &testServer{
		staging:  core.NewMemoryStaging(64, time.Hour, time.Hour),
		history:  &memHistory{recs: map[string]core.HistoryRecord{}},
		verifier: auth.NewVerifier(testSecret, ""),
	}
	ts.svc = core.NewService(core.Deps{
		Registry: schema.Default(),
		Staging:  ts.staging,
		Records:  &memRecords{rows: map[string][]schema.Record{}},
		History:  ts.history,
	}, core.Options{MaxConcurrent: 2, MaxWait: 50 * time.Millisecond})
	ts.srv = NewServer(cfg, ts.svc, ts.verifier, opts)
	return ts
}

func (ts *testServer) token(t *testing.T, u auth.User) string {
	t.Helper()
	tok, err := ts.verifier.Issue(u, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, u *auth.User, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *u))
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

// stage validates a kpi_metrics file for u synchronously.
func (ts *testServer) stage(t *testing.T, uploadID string, u auth.User, body string) {
	t.Helper()
	ctx := context.Background()
	ts.staging.PutDataType(ctx, uploadID, schema.KPIMetrics)
	if _, err := ts.svc.ProcessUpload(ctx, uploadID, "metrics.csv", []byte(body), string(schema.KPIMetrics), u.ID); err != nil {
		t.Fatalf("ProcessUpload() error = %v", err)
	}
}

const kpiFile = "metric_name,value,period\nlatency,45.2,2024-01\nerrors,oops,2024-01\nuptime,99.9,2024-02\n"

func multipartBody(t *testing.T, filename, contentType, dataType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if dataType != "" {
		if err := mw.WriteField("dataType", dataType); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="csvFile"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

// =============================================================================
// Upload
// =============================================================================

func TestUpload_Accepted(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	body, ct := multipartBody(t, "metrics.csv", "text/csv", "KPI_Metrics", kpiFile)
	req := httptest.NewRequest(http.MethodPost, "/api/data-input/csv/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := ts.do(t, &owner, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	got := decode[uploadAccepted](t, rec)
	if got.UploadID == "" || got.Status != "processing" || got.DataType != "kpi_metrics" || got.Filename != "metrics.csv" {
		t.Errorf("response = %+v", got)
	}
	if got.Message != "CSV upload started" {
		t.Errorf("message = %q", got.Message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.svc.WaitForUploads(ctx); err != nil {
		t.Fatalf("WaitForUploads() error = %v", err)
	}

	rec = ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/"+got.UploadID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[core.ProcessingResult](t, rec)
	if res.Status != core.StatusValidated || res.TotalRows != 3 || res.InvalidRows != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		ctype    string
		dataType string
		content  string
		status   int
		code     string
	}{
		{"no file", "", "", "kpi_metrics", "", http.StatusBadRequest, ""},
		{"not csv", "report.pdf", "application/pdf", "kpi_metrics", "x", http.StatusBadRequest, ""},
		{"no data type", "m.csv", "text/csv", "", kpiFile, http.StatusBadRequest, ""},
		{"unknown data type", "m.csv", "text/csv", "weather", kpiFile, http.StatusBadRequest, "CSV003"},
		{"too large", "m.csv", "text/csv", "kpi_metrics", strings.Repeat("a,b,c\n", 400), http.StatusRequestEntityTooLarge, ""},
	}

	cfg := testConfig()
	cfg.Upload.MaxFileSize = 1024
	ts := newTestServer(t, cfg, Options{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.filename, tt.ctype, tt.dataType, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/data-input/csv/upload", body)
			req.Header.Set("Content-Type", ct)

			rec := ts.do(t, &owner, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.code != "" {
				if got := decode[ErrorResponse](t, rec); got.Code != tt.code {
					t.Errorf("code = %q, want %q", got.Code, tt.code)
				}
			}
		})
	}
}

func TestUpload_ContentTypeWithoutSuffix(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	body, ct := multipartBody(t, "export", "text/csv; charset=utf-8", "kpi_metrics", kpiFile)
	req := httptest.NewRequest(http.MethodPost, "/api/data-input/csv/upload", body)
	req.Header.Set("Content-Type", ct)

	if rec := ts.do(t, &owner, req); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ts.svc.WaitForUploads(ctx)
}

func TestDataRoutes_Auth(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	tests := []struct {
		name   string
		user   *auth.User
		status int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"executive", &exec, http.StatusForbidden},
		{"pm", &owner, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.user, httptest.NewRequest(http.MethodGet, "/api/data-input/uploads/history", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

// =============================================================================
// Review, commit, rollback
// =============================================================================

func TestResult_Ownership(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)

	tests := []struct {
		name   string
		user   auth.User
		status int
	}{
		{"owner", owner, http.StatusOK},
		{"other user", other, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, &tt.user, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/up-1", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	rec := ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing upload status = %d, want 404", rec.Code)
	}
}

func TestProgress(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)

	rec := ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/up-1/progress", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		UploadID string        `json:"uploadId"`
		Progress core.Progress `json:"progress"`
	}](t, rec)
	if got.UploadID != "up-1" || got.Progress.Stage != core.StageCompleted || got.Progress.Percentage != 100 {
		t.Errorf("progress = %+v", got)
	}

	rec = ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/nope/progress", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown progress status = %d, want 404", rec.Code)
	}
}

func TestCommit_Flow(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)
	commit := func(u auth.User) *httptest.ResponseRecorder {
		return ts.do(t, &u, httptest.NewRequest(http.MethodPost, "/api/data-input/csv/up-1/commit", nil))
	}

	if rec := commit(other); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign commit status = %d, want 403", rec.Code)
	}

	rec := commit(owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[commitResponse](t, rec)
	if got.InsertedRecords != 2 || got.SkippedRows != 1 || got.UploadID != "up-1" {
		t.Errorf("commit response = %+v", got)
	}

	rec = commit(owner)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second commit status = %d, want 409", rec.Code)
	}
	if code := decode[ErrorResponse](t, rec).Code; code != "COM002" {
		t.Errorf("second commit code = %q, want COM002", code)
	}
}

func TestCommit_NothingStaged(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	rec := ts.do(t, &owner, httptest.NewRequest(http.MethodPost, "/api/data-input/csv/ghost/commit", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := decode[ErrorResponse](t, rec).Code; code != "STG001" {
		t.Errorf("code = %q, want STG001", code)
	}
}

func TestCommit_HeaderErrorsBlock(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, "metric_name,period\nlatency,2024-01\n")

	rec := ts.do(t, &owner, httptest.NewRequest(http.MethodPost, "/api/data-input/csv/up-1/commit", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body)
	}
}

func TestRollback(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)
	if _, err := ts.svc.CommitData(context.Background(), "up-1", owner.ID); err != nil {
		t.Fatal(err)
	}

	rollback := func(u auth.User) *httptest.ResponseRecorder {
		return ts.do(t, &u, httptest.NewRequest(http.MethodPost, "/api/data-input/csv/up-1/rollback", nil))
	}

	if rec := rollback(owner); rec.Code != http.StatusForbidden {
		t.Fatalf("pm rollback status = %d, want 403", rec.Code)
	}

	rec := rollback(admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin rollback status = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[rollbackResponse](t, rec); got.RowsDeleted != 2 || got.Status != core.StatusRolledBack {
		t.Errorf("rollback = %+v, want 2 rows deleted and rolled_back", got.RollbackResult)
	}
	if res, _ := ts.svc.Result(context.Background(), "up-1"); res.Status != core.StatusRolledBack {
		t.Errorf("staged status after rollback = %s, want rolled_back", res.Status)
	}

	if rec := rollback(admin); rec.Code != http.StatusConflict {
		t.Errorf("second rollback status = %d, want 409", rec.Code)
	}
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)

	if rec := ts.do(t, &other, httptest.NewRequest(http.MethodDelete, "/api/data-input/csv/up-1", nil)); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d, want 403", rec.Code)
	}
	if rec := ts.do(t, &owner, httptest.NewRequest(http.MethodDelete, "/api/data-input/csv/up-1", nil)); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, ok := ts.svc.Result(context.Background(), "up-1"); ok {
		t.Error("result still staged after delete")
	}
}

// =============================================================================
// Export, history, health
// =============================================================================

func TestExportErrors(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ts.stage(t, "up-1", owner, kpiFile)

	rec := ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/up-1/errors", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "metrics-errors.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "3,value,oops,error,") {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/up-1/errors?format=xlsx", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Type"), "spreadsheetml") {
		t.Errorf("xlsx export status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = ts.do(t, &owner, httptest.NewRequest(http.MethodGet, "/api/data-input/csv/up-1/errors?format=pdf", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pdf export status = %d, want 400", rec.Code)
	}
}

func TestHistory_Scoping(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	ctx := context.Background()
	for i, by := range []int64{owner.ID, owner.ID, other.ID} {
		_ = ts.history.SaveHistory(ctx, core.HistoryRecord{
			UploadID:   fmt.Sprintf("h-%d", i),
			UploadedBy: by,
			Status:     core.HistoryCompleted,
		})
	}

	tests := []struct {
		name  string
		user  auth.User
		query string
		want  int
		total int64
		pages int
	}{
		{"pm sees own", owner, "", 2, 2, 1},
		{"admin sees all", admin, "", 3, 3, 1},
		{"paged", admin, "?page=2&limit=2", 1, 3, 2},
		{"bad params fall back", owner, "?page=x&limit=-1", 2, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, &tt.user, httptest.NewRequest(http.MethodGet, "/api/data-input/uploads/history"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			got := decode[historyResponse](t, rec)
			if len(got.Uploads) != tt.want || got.Pagination.Total != tt.total || got.Pagination.Pages != tt.pages {
				t.Errorf("got %d uploads, pagination %+v", len(got.Uploads), got.Pagination)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		status int
		want   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all ok", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		}, http.StatusOK, "ok"},
		{"failing", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"staging":  func(context.Context) error { return errors.New("connection refused") },
		}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, Options{Checks: tt.checks})
			rec := ts.do(t, nil, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			got := decode[healthResponse](t, rec)
			if got.Status != tt.want || got.Uploads.MaxConcurrent != 2 {
				t.Errorf("health = %+v", got)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	ts := newTestServer(t, nil, Options{Metrics: metrics})

	rec := ts.do(t, nil, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("metrics status = %d body = %q", rec.Code, rec.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/data-input/csv/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	rec := ts.do(t, nil, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", schema.ErrUnknownDataType), http.StatusBadRequest},
		{core.ErrNoDataType, http.StatusBadRequest},
		{core.ErrMissingColumns, http.StatusUnprocessableEntity},
		{core.ErrNoStagedData, http.StatusNotFound},
		{core.ErrUploadNotFound, http.StatusNotFound},
		{core.ErrAlreadyCommitted, http.StatusConflict},
		{core.ErrCommitInProgress, http.StatusConflict},
		{core.ErrTooManyUploads, http.StatusTooManyRequests},
		{&core.CommitBatchError{Batches: 2, Err: errors.New("deadlock")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
