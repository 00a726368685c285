// Package schema defines the data types livpulse accepts as CSV uploads.
//
// Each DataType maps to a Schema: the fields a file must and may carry, a
// value predicate per field, and the transform that turns a validated row
// into a destination record. Schemas are collected into a Registry once at
// startup and injected wherever a data type has to be resolved.
package schema

import (
	"errors"
	"strings"
)

// DataType names a kind of upload and, by convention, its destination table.
type DataType string

const (
	KPIMetrics         DataType = "kpi_metrics"
	ContentPerformance DataType = "content_performance"
	Risks              DataType = "risks"
	BugsSprints        DataType = "bugs_sprints"
	InfraMetrics       DataType = "infra_metrics"
)

// ErrUnknownDataType is returned when a data type is not registered.
var ErrUnknownDataType = errors.New("unknown data type")

// Predicate reports whether a raw, non-empty cell value is acceptable.
// Predicates return true for the empty string; presence is checked separately.
type Predicate func(string) bool

// Record is a destination row keyed by column name. Nil values are stored as NULL.
type Record map[string]any

// TransformFunc converts a validated row, keyed by lower-case field name,
// into a destination record.
type TransformFunc func(fields map[string]string) (Record, error)

// TagColumns are appended to every destination record at commit time.
var TagColumns = []string{"upload_id", "uploaded_by", "created_at", "updated_at"}

// Schema describes one data type.
type Schema struct {
	Type        DataType
	Description string

	// Table is the destination table. Defaults to the data type name.
	Table string

	Required   []string
	Optional   []string
	Validators map[string]Predicate

	// Columns lists the destination columns produced by Transform, in insert order.
	Columns []string

	Transform TransformFunc
}

// Fields returns required followed by optional field names.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s.Required)+len(s.Optional))
	out = append(out, s.Required...)
	return append(out, s.Optional...)
}

// Known reports whether name, compared case-insensitively, is a schema field.
func (s Schema) Known(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range s.Required {
		if f == name {
			return true
		}
	}
	for _, f := range s.Optional {
		if f == name {
			return true
		}
	}
	return false
}

// IsRequired reports whether name is a required field.
func (s Schema) IsRequired(name string) bool {
	for _, f := range s.Required {
		if f == name {
			return true
		}
	}
	return false
}

// InsertColumns returns Columns followed by TagColumns.
func (s Schema) InsertColumns() []string {
	out := make([]string, 0, len(s.Columns)+len(TagColumns))
	out = append(out, s.Columns...)
	return append(out, TagColumns...)
}
