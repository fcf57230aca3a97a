package frame

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/thcovid/thcovid/internal/dates"
)

// Store reads and writes frames under a directory. CSV is the
// authoritative format; JSON records are written alongside for
// consumers that want them.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name, ext string) string {
	return filepath.Join(s.Dir, name+ext)
}

// ImportCSV loads name.csv. A missing file yields an empty frame with
// the requested index, so callers never special-case first runs.
func (s *Store) ImportCSV(name string, index ...string) (*Frame, error) {
	f := New(name, index...)

	file, err := os.Open(s.path(name, ".csv"))
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", name, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", name, err)
	}
	if len(records) < 1 {
		return f, nil
	}

	header := records[0]
	dateIdx, provIdx := -1, -1
	for i, h := range header {
		switch h {
		case "Date":
			dateIdx = i
		case "Province":
			provIdx = i
		}
	}
	if dateIdx < 0 {
		return nil, fmt.Errorf("import %s: no Date column", name)
	}

	for _, rec := range records[1:] {
		d, err := dates.Parse(rec[dateIdx])
		if err != nil {
			continue
		}
		k := Key{Date: d}
		if provIdx >= 0 && f.hasProvince {
			k.Province = rec[provIdx]
		}
		for i, h := range header {
			if i == dateIdx || i == provIdx || rec[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				continue
			}
			f.Set(k, h, v)
		}
	}
	return f, nil
}

// Export writes name.csv and, unless csvOnly, name.json with the same
// rows as JSON records. Dates serialize as YYYY-MM-DD.
func (s *Store) Export(f *Frame, name string, csvOnly bool) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	if err := s.exportCSV(f, name); err != nil {
		return err
	}
	if csvOnly {
		return nil
	}
	return s.exportJSON(f, name)
}

func formatCell(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Store) exportCSV(f *Frame, name string) error {
	file, err := os.Create(s.path(name, ".csv"))
	if err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	cols := f.Columns()

	header := []string{"Date"}
	if f.hasProvince {
		header = append(header, "Province")
	}
	header = append(header, cols...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}

	for _, k := range f.Keys() {
		row := f.Row(k)
		rec := []string{k.Date.String()}
		if f.hasProvince {
			rec = append(rec, k.Province)
		}
		for _, c := range cols {
			if v, ok := row[c]; ok {
				rec = append(rec, formatCell(v))
			} else {
				rec = append(rec, "")
			}
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	w.Flush()
	return w.Error()
}

func (s *Store) exportJSON(f *Frame, name string) error {
	records := make([]map[string]interface{}, 0, f.Len())
	for _, k := range f.Keys() {
		rec := make(map[string]interface{})
		rec["Date"] = k.Date.String()
		if f.hasProvince {
			rec["Province"] = k.Province
		}
		for c, v := range f.Row(k) {
			rec[c] = v
		}
		records = append(records, rec)
	}

	data, err := sonic.Marshal(records)
	if err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	if err := os.WriteFile(s.path(name, ".json"), data, 0o644); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	return nil
}
