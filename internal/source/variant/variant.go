// Package variant parses the biweekly genomic-surveillance PDFs. The
// lattice tables come out of the extractor without reliable headers;
// the table kind is recognised by its column count. Lineages collapse
// into the BA.1 / BA.2 / Other grouping used downstream.
package variant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/source/docfile"
)

// Lineage groups. Sublineages without a recognised residue fall into
// Other.
const (
	GroupBA1   = "BA.1 (Omicron BA.1)"
	GroupBA2   = "BA.2 (Omicron BA.2)"
	GroupOther = "Other"
)

var Groups = []string{GroupBA1, GroupBA2, GroupOther}

// Table shapes, by column count.
const (
	weekTableCols    = 5 // week, BA.1, BA.2, Other, total
	areaTableCols    = 4 // health area, BA.1, BA.2, Other
	lineageTableCols = 2 // lineage, sequenced count
)

type Parser struct {
	fetcher *download.Fetcher
	text    docfile.TextExtractor
	tables  docfile.TableExtractor
}

func NewParser(fetcher *download.Fetcher, text docfile.TextExtractor, tables docfile.TableExtractor) *Parser {
	return &Parser{fetcher: fetcher, text: text, tables: tables}
}

type Result struct {
	ByWeek   *frame.Frame // variants: weekly national group shares
	ByArea   *frame.Frame // variants_by_area
	Lineages *frame.Frame // sequenced lineages per report date
}

func (p *Parser) Parse(ctx context.Context, urls []string, dir string, check bool) (*Result, error) {
	res := &Result{
		ByWeek:   frame.New("variants", "Date"),
		ByArea:   frame.New("variants_by_area", "Date"),
		Lineages: frame.New("variants_sequenced", "Date"),
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
			logger.Warnf(ctx, "variant %s: %s", file.Path, err)
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
	reportDate, err := dates.FindThaiDate(pages[0])
	if err != nil {
		return fmt.Errorf("parseReport %s: %w", path, err)
	}

	tables, err := p.tables.Tables(ctx, path)
	if err != nil {
		return fmt.Errorf("parseReport: %w", err)
	}

	for _, tbl := range tables {
		switch tbl.ColumnCount() {
		case weekTableCols:
			parseWeekTable(reportDate, tbl, res.ByWeek)
		case areaTableCols:
			parseAreaTable(reportDate, tbl, res.ByArea)
		case lineageTableCols:
			parseLineageTable(reportDate, tbl, res.Lineages)
		}
	}
	return nil
}

// GroupLineage collapses a Pango lineage into the reporting groups.
func GroupLineage(lineage string) string {
	l := strings.TrimSpace(lineage)
	switch {
	case l == "":
		return GroupOther
	case strings.HasPrefix(l, "BA.1") || strings.HasPrefix(l, "B.1.1.529.1"):
		return GroupBA1
	case strings.HasPrefix(l, "BA.2") || strings.HasPrefix(l, "B.1.1.529.2"):
		return GroupBA2
	}
	return GroupOther
}

// parseWeekTable reads "week, BA.1, BA.2, Other, total" rows. The week
// column is a week number in the report's BE year; rows that do not
// start with a number are header or footer text.
func parseWeekTable(reportDate dates.Date, tbl docfile.Table, out *frame.Frame) {
	year := reportDate.Year + 543
	for _, row := range tbl.Rows {
		if len(row) < weekTableCols {
			continue
		}
		week, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || week < 1 || week > 53 {
			continue
		}
		k := frame.DateKey(dates.WeekEndBE(year, week))
		for i, group := range Groups {
			if v, ok := extract.CleanFloat(row[i+1]); ok {
				out.Set(k, "Variant "+group, v)
			}
		}
	}
}

// parseAreaTable reads "health area, BA.1, BA.2, Other" rows keyed to
// the report date.
func parseAreaTable(reportDate dates.Date, tbl docfile.Table, out *frame.Frame) {
	k := frame.DateKey(reportDate)
	for _, row := range tbl.Rows {
		if len(row) < areaTableCols {
			continue
		}
		m := strings.TrimLeftFunc(strings.TrimSpace(row[0]), func(r rune) bool {
			return r > 127 // strip the Thai label, keep the area number
		})
		area, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil || area < 1 || area > domain.NumHealthDistricts {
			continue
		}
		for i, group := range Groups {
			if v, ok := extract.CleanFloat(row[i+1]); ok {
				out.Set(k, fmt.Sprintf("Variant %s Area %d", group, area), v)
			}
		}
	}
}

// parseLineageTable accumulates sequenced counts per lineage group.
func parseLineageTable(reportDate dates.Date, tbl docfile.Table, out *frame.Frame) {
	k := frame.DateKey(reportDate)
	for _, row := range tbl.Rows {
		if len(row) < lineageTableCols {
			continue
		}
		lineage := strings.TrimSpace(row[0])
		v, ok := extract.CleanFloat(row[1])
		if !ok || lineage == "" || !strings.ContainsAny(lineage, ".B") {
			continue
		}
		col := "Sequenced " + GroupLineage(lineage)
		prev, _ := out.Value(k, col)
		out.Set(k, col, prev+v)
	}
}
