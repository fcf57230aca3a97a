// Package frame is the pipeline's thin persistence layer: sparse wide
// tables keyed by Date or (Date, Province), stored as CSV/JSON, merged
// with combine_first semantics.
package frame

import (
	"sort"
	"sync"

	"github.com/thcovid/thcovid/internal/dates"
)

// Key identifies a row. Province is empty for national frames.
type Key struct {
	Date     dates.Date
	Province string
}

func DateKey(d dates.Date) Key {
	return Key{Date: d}
}

func ProvinceKey(d dates.Date, province string) Key {
	return Key{Date: d, Province: province}
}

// Frame is a sparse mapping (Date[, Province]) -> Column -> value.
// Cells a source did not report are simply absent. Safe for concurrent
// writers; reads taken after all writers finish.
type Frame struct {
	name        string
	hasProvince bool

	mu   sync.Mutex
	rows map[Key]map[string]float64
	cols map[string]struct{}
}

// New creates an empty frame. index is "Date" or "Date","Province".
func New(name string, index ...string) *Frame {
	hasProvince := len(index) > 1
	return &Frame{
		name:        name,
		hasProvince: hasProvince,
		rows:        make(map[Key]map[string]float64),
		cols:        make(map[string]struct{}),
	}
}

func (f *Frame) Name() string      { return f.name }
func (f *Frame) HasProvince() bool { return f.hasProvince }

func (f *Frame) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *Frame) Empty() bool { return f.Len() == 0 }

// Set records one cell.
func (f *Frame) Set(k Key, col string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[k]
	if !ok {
		row = make(map[string]float64)
		f.rows[k] = row
	}
	row[col] = v
	f.cols[col] = struct{}{}
}

// SetRow upserts every cell of row at k.
func (f *Frame) SetRow(k Key, row map[string]float64) {
	for col, v := range row {
		f.Set(k, col, v)
	}
}

// Value reads one cell.
func (f *Frame) Value(k Key, col string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[k]
	if !ok {
		return 0, false
	}
	v, ok := row[col]
	return v, ok
}

// Drop removes one cell; the row disappears when its last cell goes.
func (f *Frame) Drop(k Key, col string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[k]
	if !ok {
		return
	}
	delete(row, col)
	if len(row) == 0 {
		delete(f.rows, k)
	}
}

// Row returns a copy of the row at k, or nil.
func (f *Frame) Row(k Key) map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[k]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(row))
	for c, v := range row {
		out[c] = v
	}
	return out
}

// Keys returns all row keys ordered by date, then province.
func (f *Frame) Keys() []Key {
	f.mu.Lock()
	keys := make([]Key, 0, len(f.rows))
	for k := range f.rows {
		keys = append(keys, k)
	}
	f.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date.Before(keys[j].Date)
		}
		return keys[i].Province < keys[j].Province
	})
	return keys
}

// Columns returns the column names in sorted order.
func (f *Frame) Columns() []string {
	f.mu.Lock()
	cols := make([]string, 0, len(f.cols))
	for c := range f.cols {
		cols = append(cols, c)
	}
	f.mu.Unlock()
	sort.Strings(cols)
	return cols
}

// Dates returns the distinct dates in ascending order.
func (f *Frame) Dates() []dates.Date {
	seen := make(map[dates.Date]struct{})
	var out []dates.Date
	for _, k := range f.Keys() {
		if _, ok := seen[k.Date]; !ok {
			seen[k.Date] = struct{}{}
			out = append(out, k.Date)
		}
	}
	return out
}

// Provinces returns the distinct provinces in sorted order.
func (f *Frame) Provinces() []string {
	seen := make(map[string]struct{})
	f.mu.Lock()
	for k := range f.rows {
		seen[k.Province] = struct{}{}
	}
	f.mu.Unlock()
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *Frame) Clone() *Frame {
	out := New(f.name)
	out.hasProvince = f.hasProvince
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, row := range f.rows {
		cp := make(map[string]float64, len(row))
		for c, v := range row {
			cp[c] = v
		}
		out.rows[k] = cp
	}
	for c := range f.cols {
		out.cols[c] = struct{}{}
	}
	return out
}

// CombineFirst returns f with gaps filled from o: for every key-column
// pair, an existing cell in f is kept and only missing cells take o's
// value. Associative, and idempotent for a fixed key set.
func (f *Frame) CombineFirst(o *Frame) *Frame {
	out := f.Clone()
	for _, k := range o.Keys() {
		for col, v := range o.Row(k) {
			if _, ok := out.Value(k, col); !ok {
				out.Set(k, col, v)
			}
		}
	}
	return out
}

// Add upserts o's rows into f, overwriting overlapping cells. Returns f.
func (f *Frame) Add(o *Frame) *Frame {
	for _, k := range o.Keys() {
		f.SetRow(k, o.Row(k))
	}
	return f
}

// Rename moves a column to a new name, overwriting nothing: cells
// already present under the new name win.
func (f *Frame) Rename(old, new string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if v, ok := row[old]; ok {
			if _, exists := row[new]; !exists {
				row[new] = v
			}
			delete(row, old)
		}
	}
	delete(f.cols, old)
	f.cols[new] = struct{}{}
}
