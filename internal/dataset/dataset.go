// Package dataset holds the tabular form of harvested records and the
// operations used to merge them into a canonical dataset.
package dataset

import (
	"sort"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/goharvest/internal/types"
)

// Row maps column name to its rendered cell value.
type Row map[string]string

// Dataset is an ordered set of columns and the rows over them.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New creates an empty dataset with the given columns.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Empty reports whether the dataset has no rows or no columns.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Rows) == 0 || len(d.Columns) == 0
}

// HasColumn reports whether column is part of the schema.
func (d *Dataset) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Append adds a row, extending the schema with any unseen columns.
func (d *Dataset) Append(row Row) {
	for col := range row {
		if !d.HasColumn(col) {
			d.Columns = append(d.Columns, col)
		}
	}
	d.Rows = append(d.Rows, row)
}

// Project returns a copy restricted to columns. Missing cells become "".
func (d *Dataset) Project(columns []string) *Dataset {
	out := New(columns...)
	if d == nil {
		return out
	}
	out.Rows = make([]Row, 0, len(d.Rows))
	for _, row := range d.Rows {
		projected := make(Row, len(columns))
		for _, c := range columns {
			projected[c] = row[c]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out
}

// Schema describes how records map to columns.
type Schema struct {
	EntityColumn     string
	TimeColumn       string
	AttributeColumns []string // leading attribute columns, in order
}

// FromRecords renders records as rows. Columns are the entity column, the
// schema's attribute columns, any other attribute keys in sorted order, and
// finally the time column.
func FromRecords(records []types.HarvestRecord, schema Schema) *Dataset {
	cols := orderedmap.NewOrderedMap[string, struct{}]()
	cols.Set(schema.EntityColumn, struct{}{})
	for _, c := range schema.AttributeColumns {
		cols.Set(c, struct{}{})
	}

	var extra []string
	seen := map[string]bool{}
	for _, rec := range records {
		for k := range rec.Attributes {
			if _, ok := cols.Get(k); ok || seen[k] || k == schema.TimeColumn {
				continue
			}
			seen[k] = true
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, c := range extra {
		cols.Set(c, struct{}{})
	}
	cols.Set(schema.TimeColumn, struct{}{})

	d := New(keys(cols)...)
	for _, rec := range records {
		row := make(Row, len(d.Columns))
		for _, c := range d.Columns {
			row[c] = ""
		}
		for k, v := range rec.Attributes {
			row[k] = types.FormatScalar(v)
		}
		row[schema.EntityColumn] = rec.EntityKey
		row[schema.TimeColumn] = rec.CapturedAt.Format(types.TimestampLayout)
		d.Rows = append(d.Rows, row)
	}
	return d
}

// Rename renames columns in place. Keys match exactly first, then
// case-insensitively. When the target column already exists, its empty
// cells are filled from the renamed column, which is then dropped.
func (d *Dataset) Rename(mapping map[string]string) {
	if d == nil || len(mapping) == 0 {
		return
	}

	for _, from := range append([]string(nil), d.Columns...) {
		to, ok := lookupRename(mapping, from)
		if !ok || to == from {
			continue
		}

		if d.HasColumn(to) {
			for _, row := range d.Rows {
				if row[to] == "" {
					row[to] = row[from]
				}
				delete(row, from)
			}
			d.Columns = removeColumn(d.Columns, from)
			continue
		}

		for i, c := range d.Columns {
			if c == from {
				d.Columns[i] = to
			}
		}
		for _, row := range d.Rows {
			if v, ok := row[from]; ok {
				row[to] = v
				delete(row, from)
			}
		}
	}
}

func lookupRename(mapping map[string]string, column string) (string, bool) {
	if to, ok := mapping[column]; ok {
		return to, true
	}
	for from, to := range mapping {
		if strings.EqualFold(from, column) {
			return to, true
		}
	}
	return "", false
}

func removeColumn(columns []string, column string) []string {
	out := columns[:0]
	for _, c := range columns {
		if c != column {
			out = append(out, c)
		}
	}
	return out
}

func keys(m *orderedmap.OrderedMap[string, struct{}]) []string {
	out := make([]string, 0, m.Len())
	for el := m.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}
