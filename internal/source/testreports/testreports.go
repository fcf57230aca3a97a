// Package testreports parses the DMSC testing publications. The XLSX
// export is authoritative; the PPTX chart deck covers per-area weekly
// numbers, with the PDF rendering as a fallback.
package testreports

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/source/docfile"
)

type Parser struct {
	fetcher *download.Fetcher
	charts  docfile.ChartExtractor
	text    docfile.TextExtractor
}

func NewParser(fetcher *download.Fetcher, charts docfile.ChartExtractor, text docfile.TextExtractor) *Parser {
	return &Parser{fetcher: fetcher, charts: charts, text: text}
}

type Result struct {
	Daily  *frame.Frame // Tests XLS / Pos XLS and public/private splits
	ByArea *frame.Frame // weekly Tests Area N spread across days
}

// Parse fetches and merges the three report families. XLSX rows win
// over anything the slides or PDFs said for the same dates.
func (p *Parser) Parse(ctx context.Context, xlsxURLs, pptxURLs, pdfURLs []string, dir string, check bool) (*Result, error) {
	res := &Result{
		Daily:  frame.New("tests", "Date"),
		ByArea: frame.New("tests_by_area", "Date"),
	}

	for _, u := range pdfURLs {
		file, err := p.fetch(ctx, u, dir, check)
		if err != nil {
			break
		}
		if file == nil {
			continue
		}
		pages, err := p.text.Pages(ctx, file.Path)
		if err != nil {
			logger.Warnf(ctx, "testing pdf %s: %s", file.Path, err)
			continue
		}
		if byArea, err := parseAreaText(strings.Join(pages, "\n")); err == nil {
			res.ByArea.Add(byArea)
		}
	}

	for _, u := range pptxURLs {
		file, err := p.fetch(ctx, u, dir, check)
		if err != nil {
			break
		}
		if file == nil {
			continue
		}
		charts, err := p.charts.Charts(ctx, file.Path)
		if err != nil {
			logger.Warnf(ctx, "testing pptx %s: %s", file.Path, err)
			continue
		}
		byArea, err := ParseCharts(ctx, charts)
		if err != nil {
			logger.Warnf(ctx, "testing pptx %s: %s", file.Path, err)
			continue
		}
		// PPTX is the weakest source; only fill gaps.
		res.ByArea = res.ByArea.CombineFirst(byArea)
	}

	for _, u := range xlsxURLs {
		file, err := p.fetch(ctx, u, dir, check)
		if err != nil {
			break
		}
		if file == nil {
			continue
		}
		daily, err := ParseXLSX(file.Path)
		if err != nil {
			logger.Warnf(ctx, "testing xlsx %s: %s", file.Path, err)
			continue
		}
		res.Daily.Add(daily)
	}

	return res, nil
}

func (p *Parser) fetch(ctx context.Context, u, dir string, check bool) (*download.File, error) {
	file, err := p.fetcher.Fetch(ctx, u, dir, check, false)
	if err != nil {
		return nil, err
	}
	if file.Missing {
		return nil, nil
	}
	return file, nil
}

var xlsxHeaderAliases = map[string]string{
	"total testing": domain.ColTestsXLS,
	"total test":    domain.ColTestsXLS,
	"จำนวนตรวจ":     domain.ColTestsXLS,
	"pos":           domain.ColPosXLS,
	"positive":      domain.ColPosXLS,
	"ผลบวก":         domain.ColPosXLS,
	"tests public":  domain.ColTestsPublic,
	"tests private": domain.ColTestsPrivate,
	"pos public":    domain.ColPosPublic,
	"pos private":   domain.ColPosPrivate,
}

// ParseXLSX reads the daily sheet: a Date column plus test counts.
func ParseXLSX(path string) (*frame.Frame, error) {
	x, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer x.Close()

	sheets := x.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: no sheets: %w", path, constants.ErrMalformedDoc)
	}
	rows, err := x.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: empty sheet: %w", path, constants.ErrMalformedDoc)
	}

	header := rows[0]
	dateCol := -1
	colMap := make(map[int]string)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "date" || name == "วันที่" {
			dateCol = i
			continue
		}
		if mapped, ok := xlsxHeaderAliases[name]; ok {
			colMap[i] = mapped
		}
	}
	if dateCol < 0 {
		return nil, fmt.Errorf("%s: no date column: %w", path, constants.ErrMalformedDoc)
	}

	f := frame.New("tests", "Date")
	for _, row := range rows[1:] {
		if dateCol >= len(row) {
			continue
		}
		d, err := parseXLSXDate(row[dateCol])
		if err != nil {
			// Contract: rows with unresolvable dates are dropped.
			continue
		}
		for i, col := range colMap {
			if i >= len(row) {
				continue
			}
			if v, ok := extract.CleanFloat(row[i]); ok {
				f.Set(frame.DateKey(d), col, v)
			}
		}
	}
	return f, nil
}

func parseXLSXDate(cell string) (dates.Date, error) {
	cell = strings.TrimSpace(cell)
	if d, err := dates.Parse(cell); err == nil {
		return d, nil
	}
	if d, err := dates.FindEnglishDate(cell); err == nil {
		return d, nil
	}
	if d, err := dates.FindThaiDate(cell); err == nil {
		return d, nil
	}
	return dates.Date{}, constants.ErrDateUnresolved
}

var areaTitleRE = regexp.MustCompile(`เขตสุขภาพที่\s*(\d{1,2})`)

// positivityTolerance allows for the rounding the deck applies to its
// percentage labels.
const positivityTolerance = 0.5

// ParseCharts reads the per-area weekly charts: each chart is one
// health district; categories are week ranges, series are test and
// positive counts. Weekly values are spread uniformly across the days
// of the range.
func ParseCharts(ctx context.Context, charts []docfile.Chart) (*frame.Frame, error) {
	f := frame.New("tests_by_area", "Date")
	for _, chart := range charts {
		m := areaTitleRE.FindStringSubmatch(chart.Title)
		if m == nil {
			continue
		}
		area := int(m[1][0] - '0')
		if len(m[1]) == 2 {
			area = int(m[1][0]-'0')*10 + int(m[1][1]-'0')
		}
		if area < 1 || area > domain.NumHealthDistricts {
			continue
		}

		tests := findSeries(chart, "จำนวนตรวจ", "tests")
		pos := findSeries(chart, "ผลบวก")
		pct := findSeries(chart, "%")

		for i, label := range chart.Categories {
			start, end, err := dates.FindDateRange(label)
			if err != nil {
				continue
			}
			var tv, pv float64
			if i < len(tests) {
				tv = tests[i]
			}
			if i < len(pos) {
				pv = pos[i]
			}
			if tv <= 0 {
				continue
			}
			if i < len(pct) && pct[i] > 0 {
				got := pv / tv * 100
				if math.Abs(got-pct[i]) > positivityTolerance {
					logger.Warnf(ctx, "tests area %d week %s: positivity %.2f vs label %.2f",
						area, label, got, pct[i])
					continue
				}
			}
			spread(f, start, end, domain.TestsArea(area), tv)
			spread(f, start, end, domain.PosArea(area), pv)
		}
	}
	return f, nil
}

func findSeries(chart docfile.Chart, names ...string) []float64 {
	for name, vals := range chart.Series {
		for _, want := range names {
			if strings.Contains(strings.ToLower(name), strings.ToLower(want)) {
				return vals
			}
		}
	}
	return nil
}

func spread(f *frame.Frame, start, end dates.Date, col string, total float64) {
	days := dates.Range(start, end)
	if len(days) == 0 {
		return
	}
	per := total / float64(len(days))
	for _, d := range days {
		f.Set(frame.DateKey(d), col, math.Round(per*100)/100)
	}
}

var areaLineRE = regexp.MustCompile(`เขตสุขภาพที่\s*(\d{1,2})\s+([\d,]+)\s+([\d,]+)`)

// parseAreaText reads the PDF rendering of the per-area table: one
// line per district with tests then positives, over the report's
// week range.
func parseAreaText(text string) (*frame.Frame, error) {
	start, end, err := dates.FindDateRange(text)
	if err != nil {
		return nil, fmt.Errorf("testing pdf: %w", err)
	}

	f := frame.New("tests_by_area", "Date")
	matched := 0
	for _, m := range areaLineRE.FindAllStringSubmatch(text, -1) {
		area := 0
		fmt.Sscanf(m[1], "%d", &area)
		if area < 1 || area > domain.NumHealthDistricts {
			continue
		}
		tv, ok1 := extract.CleanInt(m[2])
		pv, ok2 := extract.CleanInt(m[3])
		if !ok1 || !ok2 {
			continue
		}
		spread(f, start, end, domain.TestsArea(area), float64(tv))
		spread(f, start, end, domain.PosArea(area), float64(pv))
		matched++
	}
	if matched == 0 {
		return nil, fmt.Errorf("testing pdf: no area rows: %w", constants.ErrMalformedDoc)
	}
	return f, nil
}
