package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Export formats for validation error reports.
const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

var errorReportHeader = []string{"row", "column", "value", "severity", "message"}

// WriteErrorReport writes errs to w as a CSV or XLSX sheet, one issue per row.
func WriteErrorReport(w io.Writer, format string, errs []ValidationError) error {
	switch format {
	case ExportCSV, "":
		return writeErrorsCSV(w, errs)
	case ExportXLSX:
		return writeErrorsXLSX(w, errs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ErrorReportContentType returns the MIME type for format.
func ErrorReportContentType(format string) string {
	if format == ExportXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func writeErrorsCSV(w io.Writer, errs []ValidationError) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(errorReportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range errs {
		if err := cw.Write([]string{strconv.Itoa(e.Row), e.Column, e.Value, string(e.Severity), e.Message}); err != nil {
			return fmt.Errorf("write row %d: %w", e.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeErrorsXLSX(w io.Writer, errs []ValidationError) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Validation Errors"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]interface{}, len(errorReportHeader))
	for i, h := range errorReportHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, e := range errs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, []interface{}{e.Row, e.Column, e.Value, string(e.Severity), e.Message}); err != nil {
			return fmt.Errorf("write row %d: %w", e.Row, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
