package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/core"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// uploadAccepted is the 202 body of a successful submission.
type uploadAccepted struct {
	Message  string `json:"message"`
	UploadID string `json:"uploadId"`
	Filename string `json:"filename"`
	DataType string `json:"dataType"`
	Status   string `json:"status"`
}

// handleUpload accepts a multipart CSV file and starts background processing.
// The response is sent before the file is parsed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	maxSize := s.cfg.Upload.MaxFileSize
	// Leave room for the form fields and part headers around the file.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fileTooLarge(maxSize))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("csvFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No CSV file provided")
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, fileTooLarge(maxSize))
		return
	}
	if !isCSV(header) {
		writeError(w, http.StatusBadRequest, "Only CSV files are allowed")
		return
	}

	dataType := strings.TrimSpace(r.FormValue("dataType"))
	if dataType == "" {
		writeError(w, http.StatusBadRequest, "dataType is required")
		return
	}
	sc, err := s.service.Registry().Lookup(dataType)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}

	uploadID, err := s.service.Submit(r.Context(), core.UploadRequest{
		Filename: header.Filename,
		Data:     data,
		DataType: string(sc.Type),
		UserID:   user.ID,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadAccepted{
		Message:  "CSV upload started",
		UploadID: uploadID,
		Filename: header.Filename,
		DataType: string(sc.Type),
		Status:   string(core.StatusProcessing),
	})
}

// handleProgress returns the last progress snapshot of an upload.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	if !s.allowStaged(w, r, uploadID) {
		return
	}

	p, ok := s.service.Progress(r.Context(), uploadID)
	if !ok {
		respondError(w, r, fmt.Errorf("progress %s: %w", uploadID, core.ErrUploadNotFound), 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploadId": uploadID,
		"progress": p,
	})
}

// handleResult returns the staged processing result without the raw rows.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDelete drops every staged entry of an upload. Committed rows stay.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	if !s.allowStaged(w, r, uploadID) {
		return
	}

	s.service.DeleteUpload(r.Context(), uploadID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Upload data deleted",
		"uploadId": uploadID,
	})
}

// handleExportErrors downloads the validation issues of an upload as CSV
// (default) or XLSX.
func (s *Server) handleExportErrors(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = core.ExportCSV
	}
	if format != core.ExportCSV && format != core.ExportXLSX {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}

	// Render fully first so a failure can still become a JSON error.
	var buf bytes.Buffer
	if err := s.service.ExportErrors(r.Context(), res.UploadID, &buf, format); err != nil {
		respondError(w, r, err, 0)
		return
	}

	filename := fmt.Sprintf("%s-errors.%s", strings.TrimSuffix(filepath.Base(res.Filename), filepath.Ext(res.Filename)), format)
	w.Header().Set("Content-Type", core.ErrorReportContentType(format))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// loadResult fetches the staged result named by the route and checks the
// caller may see it. It writes the error response when it returns false.
func (s *Server) loadResult(w http.ResponseWriter, r *http.Request) (core.ProcessingResult, bool) {
	uploadID := chi.URLParam(r, "uploadID")
	res, ok := s.service.Result(r.Context(), uploadID)
	if !ok {
		respondError(w, r, fmt.Errorf("result %s: %w", uploadID, core.ErrUploadNotFound), 0)
		return core.ProcessingResult{}, false
	}
	if !canAccess(r, res.UserID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return core.ProcessingResult{}, false
	}
	return res, true
}

// allowStaged rejects callers that do not own a staged upload. Uploads
// without a staged result yet are allowed through.
func (s *Server) allowStaged(w http.ResponseWriter, r *http.Request, uploadID string) bool {
	res, ok := s.service.Result(r.Context(), uploadID)
	if ok && !canAccess(r, res.UserID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

// canAccess reports whether the caller owns the upload or holds a
// privileged role.
func canAccess(r *http.Request, ownerID int64) bool {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return false
	}
	return user.ID == ownerID || user.Privileged()
}

func isCSV(h *multipart.FileHeader) bool {
	if strings.HasSuffix(strings.ToLower(h.Filename), ".csv") {
		return true
	}
	mt, _, err := mime.ParseMediaType(h.Header.Get("Content-Type"))
	return err == nil && mt == "text/csv"
}

func fileTooLarge(limit int64) string {
	return fmt.Sprintf("File exceeds the %d MB upload limit", limit>>20)
}
