package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// DefaultProgressInterval is the number of rows between validation progress events.
const DefaultProgressInterval = 100

// Validation progress occupies [validateProgressStart, validateProgressEnd).
const (
	validateProgressStart = 30
	validateProgressSpan  = 60
)

// Validator checks parsed rows against a data type's schema.
type Validator struct {
	registry *schema.Registry
	interval int
}

// NewValidator returns a Validator resolving data types through registry and
// reporting progress every interval rows.
func NewValidator(registry *schema.Registry, interval int) *Validator {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Validator{registry: registry, interval: interval}
}

// Validate classifies every data row of rows (row 0 is the header).
//
// Missing required columns are reported once against the header and do not
// stop validation. Unknown columns produce one warning each. A data row is
// invalid when it has an empty required field or a value its predicate
// rejects; warnings never make a row invalid.
func (v *Validator) Validate(ctx context.Context, rows [][]string, dataType string, progress ProgressFunc) (ValidationResult, error) {
	s, err := v.registry.Lookup(dataType)
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{Errors: []ValidationError{}}
	if len(rows) == 0 {
		return result, nil
	}

	header := rows[0]
	data := rows[1:]
	index := headerIndex(header)

	for _, field := range s.Required {
		if _, ok := index[field]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Row:      HeaderRow,
				Column:   field,
				Value:    "missing",
				Message:  fmt.Sprintf("Required column '%s' is missing", field),
				Severity: SeverityError,
			})
		}
	}

	warned := make(map[string]bool)
	for _, col := range header {
		key := strings.ToLower(col)
		if key == "" || warned[key] || s.Known(key) {
			continue
		}
		warned[key] = true
		result.Errors = append(result.Errors, ValidationError{
			Row:      HeaderRow,
			Column:   col,
			Value:    col,
			Message:  fmt.Sprintf("Unknown column '%s' will be ignored", col),
			Severity: SeverityWarning,
		})
	}

	// Fields checked per row, in schema order so errors come out stable.
	fields := s.Fields()
	total := len(data)

	for i, row := range data {
		if i%v.interval == 0 {
			if err := ctx.Err(); err != nil {
				return ValidationResult{}, fmt.Errorf("validate row %d: %w", i+2, err)
			}
			if progress != nil {
				progress(Progress{
					Stage:         StageValidating,
					Percentage:    validateProgressStart + i*validateProgressSpan/total,
					Message:       fmt.Sprintf("Validating row %d of %d...", i+1, total),
					RowsProcessed: i,
					TotalRows:     total,
				})
			}
		}

		rowNum := i + 2
		valid := true

		for _, field := range fields {
			pos, ok := index[field]
			if !ok {
				continue
			}
			value := cellAt(row, pos)

			if value == "" {
				if s.IsRequired(field) {
					valid = false
					result.Errors = append(result.Errors, ValidationError{
						Row:      rowNum,
						Column:   field,
						Value:    value,
						Message:  fmt.Sprintf("Required field '%s' is empty", field),
						Severity: SeverityError,
					})
				}
				continue
			}

			if pred, ok := s.Validators[field]; ok && !pred(value) {
				valid = false
				result.Errors = append(result.Errors, ValidationError{
					Row:      rowNum,
					Column:   field,
					Value:    value,
					Message:  fmt.Sprintf("Invalid value for '%s': %s", field, value),
					Severity: SeverityError,
				})
			}
		}

		if valid {
			result.ValidRows++
		} else {
			result.InvalidRows++
		}
	}

	return result, nil
}

// headerIndex maps lower-cased header names to their first position.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// cellAt returns the trimmed cell at pos, or "" for short rows.
func cellAt(row []string, pos int) string {
	if pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// rowFields maps a data row onto the schema fields present in the header.
func rowFields(s schema.Schema, index map[string]int, row []string) map[string]string {
	out := make(map[string]string, len(index))
	for _, field := range s.Fields() {
		if pos, ok := index[field]; ok {
			out[field] = cellAt(row, pos)
		}
	}
	return out
}
