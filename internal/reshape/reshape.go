package reshape

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tradebalance/internal/model"
	"tradebalance/internal/table"
)

var ErrMissingColumn = errors.New("reshape: missing column")

// Wide is a pivoted table: one row per distinct group-key tuple and one
// value column per distinct spread value.
type Wide struct {
	GroupKeys []string
	Columns   []string
	Rows      []Row
}

type Row struct {
	Keys   []string
	Values map[string]float64
}

// Key returns the group value named name, or "".
func (w *Wide) Key(r Row, name string) string {
	for i, key := range w.GroupKeys {
		if key == name && i < len(r.Keys) {
			return r.Keys[i]
		}
	}
	return ""
}

// Reshape pivots long rows into a Wide table. Rows sharing the same group
// tuple and spread value are summed, never overwritten, so feeding the same
// row twice doubles its contribution. Absent values ("", ":" or
// unparseable) contribute zero.
func Reshape(t *table.Table, groupKeys []string, spreadKey, valueKey string) (*Wide, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil table", ErrMissingColumn)
	}
	for _, name := range append(append([]string(nil), groupKeys...), spreadKey, valueKey) {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	index := make(map[string]int)
	columns := make(map[string]struct{})
	var rows []Row
	for _, record := range t.Rows {
		keys := make([]string, len(groupKeys))
		for i, name := range groupKeys {
			keys[i] = t.Cell(record, name)
		}
		spread := t.Cell(record, spreadKey)
		if spread == "" {
			continue
		}
		value := model.ParseAmount(t.Cell(record, valueKey)).OrZero()

		id := strings.Join(keys, "\x1f")
		pos, ok := index[id]
		if !ok {
			pos = len(rows)
			index[id] = pos
			rows = append(rows, Row{Keys: keys, Values: make(map[string]float64)})
		}
		rows[pos].Values[spread] += value
		columns[spread] = struct{}{}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return lessKeys(rows[i].Keys, rows[j].Keys)
	})

	w := &Wide{
		GroupKeys: append([]string(nil), groupKeys...),
		Columns:   sortedKeys(columns),
		Rows:      rows,
	}
	// Every cell of every column is defined, even when the pair never
	// occurred in the input.
	return w.Ensure(w.Columns...), nil
}

// Ensure returns a copy of w in which every named column exists and every
// row carries a value for it, zero when absent.
func (w *Wide) Ensure(columns ...string) *Wide {
	set := make(map[string]struct{}, len(w.Columns)+len(columns))
	for _, c := range w.Columns {
		set[c] = struct{}{}
	}
	for _, c := range columns {
		set[c] = struct{}{}
	}

	out := &Wide{
		GroupKeys: append([]string(nil), w.GroupKeys...),
		Columns:   sortedKeys(set),
		Rows:      make([]Row, len(w.Rows)),
	}
	for i, r := range w.Rows {
		values := make(map[string]float64, len(out.Columns))
		for _, c := range out.Columns {
			values[c] = r.Values[c]
		}
		out.Rows[i] = Row{Keys: append([]string(nil), r.Keys...), Values: values}
	}
	return out
}

// Rename returns a copy of w with spread columns renamed. Columns mapped to
// the same name are summed.
func (w *Wide) Rename(mapping map[string]string) *Wide {
	set := make(map[string]struct{})
	out := &Wide{
		GroupKeys: append([]string(nil), w.GroupKeys...),
		Rows:      make([]Row, len(w.Rows)),
	}
	for i, r := range w.Rows {
		values := make(map[string]float64, len(r.Values))
		for c, v := range r.Values {
			name := c
			if renamed, ok := mapping[c]; ok {
				name = renamed
			}
			values[name] += v
			set[name] = struct{}{}
		}
		out.Rows[i] = Row{Keys: append([]string(nil), r.Keys...), Values: values}
	}
	for _, c := range w.Columns {
		name := c
		if renamed, ok := mapping[c]; ok {
			name = renamed
		}
		set[name] = struct{}{}
	}
	out.Columns = sortedKeys(set)
	return out
}

// Balance returns exportCol - importCol for every row. Missing columns
// count as zero.
func (w *Wide) Balance(exportCol, importCol string) []float64 {
	out := make([]float64, len(w.Rows))
	for i, r := range w.Rows {
		out[i] = r.Values[exportCol] - r.Values[importCol]
	}
	return out
}

func lessKeys(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
