package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses CSV with a header row. A leading UTF-8 byte order mark is
// ignored. Empty input yields an empty dataset. Short rows are padded with
// empty cells; a repeated header name keeps its first column.
func Decode(data []byte) (*Dataset, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	d := New()
	index := make([]int, 0, len(header))
	for i, name := range header {
		if d.HasColumn(name) {
			continue
		}
		d.Columns = append(d.Columns, name)
		index = append(index, i)
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", line, err)
		}
		row := make(Row, len(d.Columns))
		for j, col := range d.Columns {
			if i := index[j]; i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

// Encode writes the dataset as CSV prefixed with a UTF-8 byte order mark so
// spreadsheet tools detect the encoding.
func Encode(d *Dataset) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	if d == nil || len(d.Columns) == 0 {
		return buf.Bytes(), nil
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(d.Columns); err != nil {
		return nil, err
	}
	rec := make([]string, len(d.Columns))
	for _, row := range d.Rows {
		for i, c := range d.Columns {
			rec[i] = row[c]
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}
