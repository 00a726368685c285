package schema

import (
	"fmt"
	"strings"
)

// rowReader pulls typed values out of a validated row. The first conversion
// failure is kept and reported by Err; later reads still return nil.
type rowReader struct {
	fields map[string]string
	err    error
}

func newRowReader(fields map[string]string) *rowReader {
	return &rowReader{fields: fields}
}

func (r *rowReader) raw(name string) string {
	return strings.TrimSpace(r.fields[name])
}

func (r *rowReader) fail(name, value, kind string) {
	if r.err == nil {
		r.err = fmt.Errorf("field %s: %q is not a valid %s", name, value, kind)
	}
}

// Text returns the value, or nil when empty.
func (r *rowReader) Text(name string) any {
	if v := r.raw(name); v != "" {
		return v
	}
	return nil
}

// Enum returns the lower-cased value, or nil when empty.
func (r *rowReader) Enum(name string) any {
	if v := r.raw(name); v != "" {
		return strings.ToLower(v)
	}
	return nil
}

// Float returns a float64, or nil when empty.
func (r *rowReader) Float(name string) any {
	v := r.raw(name)
	if v == "" {
		return nil
	}
	f, ok := ParseNumber(v)
	if !ok {
		r.fail(name, v, "number")
		return nil
	}
	return f
}

// Int returns an int64, or nil when empty.
func (r *rowReader) Int(name string) any {
	v := r.raw(name)
	if v == "" {
		return nil
	}
	n, ok := ParseCount(v)
	if !ok {
		r.fail(name, v, "non-negative integer")
		return nil
	}
	return n
}

// Time returns a time.Time in UTC, or nil when empty.
func (r *rowReader) Time(name string) any {
	v := r.raw(name)
	if v == "" {
		return nil
	}
	t, ok := ParseTimestamp(v)
	if !ok {
		r.fail(name, v, "timestamp")
		return nil
	}
	return t
}

// Err returns the first conversion error.
func (r *rowReader) Err() error {
	return r.err
}
