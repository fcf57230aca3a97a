// Package vaccination parses the daily DDC vaccination report PDFs:
// per-province cumulative doses, national dose totals split by
// manufacturer and by target group, and vaccine allocations. The
// report layout drifted repeatedly; tables are recognised by their
// header shape, never by page position.
package vaccination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/overrides"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/provinces"
	"github.com/thcovid/thcovid/internal/source/docfile"
)

// crossCheckTolerance is the relative slack for the manufacturer and
// group sum checks; the report rounds some subtotals.
const crossCheckTolerance = 0.01

var manufNames = map[string]string{
	"ซิโนแวค":        "Sinovac",
	"sinovac":        "Sinovac",
	"แอสตร้าเซนเนก้า": "AstraZeneca",
	"astrazeneca":    "AstraZeneca",
	"ซิโนฟาร์ม":       "Sinopharm",
	"sinopharm":      "Sinopharm",
	"ไฟเซอร์":        "Pfizer",
	"pfizer":         "Pfizer",
	"โมเดอร์นา":       "Moderna",
	"moderna":        "Moderna",
}

var groupNames = map[string]string{
	"บุคลากรทางการแพทย์": "Medical Staff",
	"อสม":                "Health Volunteer",
	"เจ้าหน้าที่ด่านหน้า": "Other Frontline Staff",
	"ผู้มีอายุ 60":        "Over 60",
	"ผู้ที่มีอายุตั้งแต่ 60": "Over 60",
	"โรคเรื้อรัง":         "Risk: Disease",
	"หญิงตั้งครรภ์":       "Risk: Pregnant",
	"พื้นที่เสี่ยง":        "Risk: Location",
	"นักเรียน":           "Student",
	"ประชาชนทั่วไป":      "General Population",
}

var doseHeaderRE = regexp.MustCompile(`เข็ม(?:ที่)?\s*(\d)`)

type Parser struct {
	fetcher  *download.Fetcher
	text     docfile.TextExtractor
	tables   docfile.TableExtractor
	resolver *provinces.Resolver
}

func NewParser(fetcher *download.Fetcher, text docfile.TextExtractor, tables docfile.TableExtractor, resolver *provinces.Resolver) *Parser {
	return &Parser{fetcher: fetcher, text: text, tables: tables, resolver: resolver}
}

type Result struct {
	Timeline  *frame.Frame // national totals, manufacturer/group splits
	Provinces *frame.Frame // cumulative doses per (date, province)
}

func (p *Parser) Parse(ctx context.Context, urls []string, dir string, check bool) (*Result, error) {
	res := &Result{
		Timeline:  frame.New("vac_timeline", "Date"),
		Provinces: frame.New("vac_provs", "Date", "Province"),
	}

	for _, u := range urls {
		file, err := p.fetcher.Fetch(ctx, u, dir, check, false)
		if err != nil {
			if errors.Is(err, constants.ErrCutShort) {
				break
			}
			return nil, err
		}
		if file.Missing {
			continue
		}

		if err := p.parseReport(ctx, file.Path, res); err != nil {
			logger.Warnf(ctx, "vaccination %s: %s", file.Path, err)
		}
	}
	return res, nil
}

func (p *Parser) parseReport(ctx context.Context, path string, res *Result) error {
	pages, err := p.text.Pages(ctx, path)
	if err != nil {
		return fmt.Errorf("parseReport: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("parseReport %s: %w", path, constants.ErrMalformedDoc)
	}
	date, err := dates.FindThaiDate(pages[0])
	if err != nil {
		return fmt.Errorf("parseReport %s: %w", path, err)
	}

	tables, err := p.tables.Tables(ctx, path)
	if err != nil {
		return fmt.Errorf("parseReport: %w", err)
	}

	for _, tbl := range tables {
		switch classify(tbl) {
		case tableProvince:
			p.parseProvinceTable(ctx, date, tbl, res)
		case tableManufacturer:
			parseManufacturerTable(date, tbl, res.Timeline)
		case tableGroup:
			parseGroupTable(date, tbl, res.Timeline)
		case tableAllocation:
			parseAllocationTable(date, tbl, res.Timeline)
		}
	}

	if err := crossCheck(ctx, date, res.Timeline); err != nil {
		return err
	}
	return nil
}

type tableKind int

const (
	tableUnknown tableKind = iota
	tableProvince
	tableManufacturer
	tableGroup
	tableAllocation
)

// classify recognises a table by its header row.
func classify(tbl docfile.Table) tableKind {
	if len(tbl.Rows) == 0 {
		return tableUnknown
	}
	header := strings.Join(tbl.Rows[0], " ")
	hasDose := doseHeaderRE.MatchString(header)
	switch {
	case strings.Contains(header, "จังหวัด") && hasDose:
		return tableProvince
	case strings.Contains(header, "จัดสรร"):
		return tableAllocation
	case containsAny(header, "ชนิดวัคซีน", "sinovac", "ซิโนแวค") && hasDose:
		return tableManufacturer
	case containsAny(header, "กลุ่มเป้าหมาย", "บุคลากรทางการแพทย์") && hasDose:
		return tableGroup
	}
	return tableUnknown
}

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// doseColumns maps header cells to dose numbers by the "เข็มที่ N"
// labels. Layouts reorder and add doses; only the labels are trusted.
func doseColumns(header []string) map[int]int {
	out := make(map[int]int)
	for i, cell := range header {
		if m := doseHeaderRE.FindStringSubmatch(cell); m != nil {
			out[i] = int(m[1][0] - '0')
		}
	}
	return out
}

func labelColumn(header []string, want string) int {
	for i, cell := range header {
		if strings.Contains(cell, want) {
			return i
		}
	}
	return 0
}

func (p *Parser) parseProvinceTable(ctx context.Context, date dates.Date, tbl docfile.Table, res *Result) {
	doses := doseColumns(tbl.Rows[0])
	provCol := labelColumn(tbl.Rows[0], "จังหวัด")

	for _, row := range tbl.Rows[1:] {
		if provCol >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[provCol])
		if raw == "" || strings.Contains(raw, "รวม") {
			// "รวม" is the grand-total row; totals come from the
			// dedicated tables instead.
			continue
		}
		name, err := p.resolver.GetOpts(raw, provinces.GetOpts{IgnoreError: true, Source: "vac_report"})
		if err != nil || name == "" {
			continue
		}
		k := frame.Key{Date: date, Province: name}
		for col, dose := range doses {
			if col >= len(row) {
				continue
			}
			if v, ok := extract.CleanInt(row[col]); ok {
				res.Provinces.Set(k, domain.VacGiven(dose), float64(v))
			}
		}
	}
}

func parseManufacturerTable(date dates.Date, tbl docfile.Table, out *frame.Frame) {
	doses := doseColumns(tbl.Rows[0])
	k := frame.DateKey(date)
	for _, row := range tbl.Rows[1:] {
		manuf := matchName(row, manufNames)
		if manuf == "" {
			if isTotalRow(row) {
				for col, dose := range doses {
					if v, ok := cell(row, col); ok {
						out.Set(k, domain.VacGiven(dose), v)
					}
				}
			}
			continue
		}
		for col, dose := range doses {
			if v, ok := cell(row, col); ok {
				out.Set(k, domain.VacGivenBy(manuf, dose), v)
			}
		}
	}
}

func parseGroupTable(date dates.Date, tbl docfile.Table, out *frame.Frame) {
	doses := doseColumns(tbl.Rows[0])
	k := frame.DateKey(date)
	for _, row := range tbl.Rows[1:] {
		group := matchName(row, groupNames)
		if group == "" {
			continue
		}
		for col, dose := range doses {
			if v, ok := cell(row, col); ok {
				out.Set(k, domain.VacGroup(group, dose), v)
			}
		}
	}
}

func parseAllocationTable(date dates.Date, tbl docfile.Table, out *frame.Frame) {
	k := frame.DateKey(date)
	for _, row := range tbl.Rows[1:] {
		manuf := matchName(row, manufNames)
		if manuf == "" {
			continue
		}
		// Allocation is the last numeric cell of the row.
		for i := len(row) - 1; i > 0; i-- {
			if v, ok := cell(row, i); ok {
				out.Set(k, domain.VacAllocated(manuf), v)
				break
			}
		}
	}
}

func matchName(row []string, names map[string]string) string {
	for _, c := range row {
		for raw, canonical := range names {
			if containsAny(c, raw) {
				return canonical
			}
		}
	}
	return ""
}

func isTotalRow(row []string) bool {
	for _, c := range row {
		if strings.Contains(c, "รวม") {
			return true
		}
	}
	return false
}

func cell(row []string, i int) (float64, bool) {
	if i >= len(row) {
		return 0, false
	}
	return extract.CleanFloat(row[i])
}

// crossCheck validates the manufacturer and group splits against the
// dose totals for date. A failed manufacturer check drops the split
// unless the layout change is waived; a failed group check drops the
// groups unless waived.
func crossCheck(ctx context.Context, date dates.Date, tl *frame.Frame) error {
	k := frame.DateKey(date)
	for dose := 1; dose <= 4; dose++ {
		total, ok := tl.Value(k, domain.VacGiven(dose))
		if !ok || total == 0 {
			continue
		}

		if sum, any := sumCols(tl, k, func(m string) string { return domain.VacGivenBy(m, dose) }, domain.Manufacturers); any {
			if relDiff(sum, total) > crossCheckTolerance && !overrides.VacLayoutChanged(date) {
				logger.Warnf(ctx, "vaccination %s: manufacturer doses %d sum %.0f vs total %.0f, dropping split",
					date, dose, sum, total)
				for _, m := range domain.Manufacturers {
					tl.Drop(k, domain.VacGivenBy(m, dose))
				}
			}
		}

		if sum, any := sumCols(tl, k, func(g string) string { return domain.VacGroup(g, dose) }, domain.VacGroups); any {
			if relDiff(sum, total) > crossCheckTolerance && !overrides.VacGroupMismatchAllowed(date) {
				logger.Warnf(ctx, "vaccination %s: group doses %d sum %.0f vs total %.0f, dropping groups",
					date, dose, sum, total)
				for _, g := range domain.VacGroups {
					tl.Drop(k, domain.VacGroup(g, dose))
				}
			}
		}
	}
	return nil
}

func sumCols(f *frame.Frame, k frame.Key, col func(string) string, names []string) (float64, bool) {
	sum := 0.0
	any := false
	for _, n := range names {
		if v, ok := f.Value(k, col(n)); ok {
			sum += v
			any = true
		}
	}
	return sum, any
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Abs(a-b) / b
}
