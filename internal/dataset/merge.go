package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/goharvest/internal/types"
)

// Keep selects which of several rows sharing a dedup key survives.
type Keep string

const (
	// KeepLast prefers the later row, i.e. freshly harvested data.
	KeepLast Keep = "last"
	// KeepFirst prefers the earlier row.
	KeepFirst Keep = "first"
)

// ParseKeep maps a config value to a Keep policy. Empty means KeepLast.
func ParseKeep(s string) (Keep, error) {
	switch Keep(strings.ToLower(strings.TrimSpace(s))) {
	case KeepLast, "":
		return KeepLast, nil
	case KeepFirst:
		return KeepFirst, nil
	default:
		return "", fmt.Errorf("unknown keep policy %q", s)
	}
}

// ReconcileColumns picks the merged schema. When both datasets have rows and
// share columns, the shared columns are used in old's order. Otherwise the
// union is used, old's columns first.
func ReconcileColumns(old, fresh *Dataset) []string {
	if !old.Empty() && !fresh.Empty() {
		var shared []string
		for _, c := range old.Columns {
			if fresh.HasColumn(c) {
				shared = append(shared, c)
			}
		}
		if len(shared) > 0 {
			return shared
		}
	}

	union := orderedmap.NewOrderedMap[string, struct{}]()
	for _, d := range []*Dataset{old, fresh} {
		if d == nil {
			continue
		}
		for _, c := range d.Columns {
			union.Set(c, struct{}{})
		}
	}
	return keys(union)
}

// MergeResult describes a merge.
type MergeResult struct {
	Dataset     *Dataset
	OldRows     int
	NewRows     int
	Dropped     int      // rows removed as duplicates
	KeyColumns  []string // dedup columns actually used
	MissingKeys []string // requested dedup columns absent from the schema
}

// Merge concatenates old then fresh over the reconciled schema and removes
// duplicates on keyColumns with the keep policy.
func Merge(old, fresh *Dataset, keyColumns []string, keep Keep) *MergeResult {
	columns := ReconcileColumns(old, fresh)

	combined := New(columns...)
	combined.Rows = append(combined.Rows, old.Project(columns).Rows...)
	combined.Rows = append(combined.Rows, fresh.Project(columns).Rows...)

	deduped, used, missing := Dedup(combined, keyColumns, keep)
	return &MergeResult{
		Dataset:     deduped,
		OldRows:     old.Len(),
		NewRows:     fresh.Len(),
		Dropped:     combined.Len() - deduped.Len(),
		KeyColumns:  used,
		MissingKeys: missing,
	}
}

// Dedup removes rows sharing the same values on the key columns present in
// the schema. With no key column present, whole rows are compared. Surviving
// rows keep the relative order of the occurrence that was kept.
func Dedup(d *Dataset, keyColumns []string, keep Keep) (out *Dataset, used, missing []string) {
	for _, k := range keyColumns {
		if d.HasColumn(k) {
			used = append(used, k)
		} else {
			missing = append(missing, k)
		}
	}
	compare := used
	if len(compare) == 0 {
		compare = d.Columns
	}

	rowKeys := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		rowKeys[i] = rowKey(row, compare)
	}

	out = New(d.Columns...)
	switch keep {
	case KeepFirst:
		seen := make(map[string]bool, len(rowKeys))
		for i, k := range rowKeys {
			if seen[k] {
				continue
			}
			seen[k] = true
			out.Rows = append(out.Rows, d.Rows[i])
		}
	default:
		last := make(map[string]int, len(rowKeys))
		for i, k := range rowKeys {
			last[k] = i
		}
		for i, k := range rowKeys {
			if last[k] == i {
				out.Rows = append(out.Rows, d.Rows[i])
			}
		}
	}
	return out, used, missing
}

func rowKey(row Row, columns []string) string {
	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(row[c])
	}
	return b.String()
}

var timeLayouts = []string{
	types.TimestampLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseTime parses a cell with the layouts datasets are known to carry.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortByTime stably orders rows by the time parsed from column. Cell values
// are not modified; rows whose cell does not parse go last in their original
// order. A column not in the schema leaves the order unchanged.
func SortByTime(d *Dataset, column string) {
	if d == nil || column == "" || !d.HasColumn(column) {
		return
	}

	type keyed struct {
		t  time.Time
		ok bool
	}
	sortKeys := make(map[int]keyed, len(d.Rows))
	idx := make([]int, len(d.Rows))
	for i, row := range d.Rows {
		t, ok := ParseTime(row[column])
		sortKeys[i] = keyed{t: t, ok: ok}
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := sortKeys[idx[a]], sortKeys[idx[b]]
		if ka.ok != kb.ok {
			return ka.ok
		}
		return ka.ok && ka.t.Before(kb.t)
	})

	rows := make([]Row, len(idx))
	for i, j := range idx {
		rows[i] = d.Rows[j]
	}
	d.Rows = rows
}
