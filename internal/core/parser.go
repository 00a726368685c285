package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV decodes comma-separated UTF-8 text into rows of trimmed cells.
//
// Row 0 is the header. Blank lines and rows whose cells are all empty are
// skipped. Rows may be shorter or longer than the header. A leading UTF-8
// byte order mark is ignored. Errors wrap ErrParse.
func ParseCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: encoding error at byte %d, file must be UTF-8", ErrParse, invalidUTF8Offset(data))
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if isEmptyRow(record) {
			continue
		}
		rows = append(rows, record)
	}

	return rows, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func invalidUTF8Offset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
