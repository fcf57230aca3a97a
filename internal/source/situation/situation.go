// Package situation parses the daily DDC situation report PDFs (Thai
// and English editions) into cumulative testing and case columns.
package situation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/overrides"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/source/docfile"
)

// anchorSpec binds a column to the phrases that precede its value in
// the report text. EN and TH editions use different phrasing.
type anchorSpec struct {
	col     string
	anchors []string
}

var enAnchors = []anchorSpec{
	{domain.ColTestedCum, []string{"Total number of laboratory tests"}},
	{domain.ColTestedPUICum, []string{"people who meet the criteria of patients under investigation", "Total number of people who meet the criteria of PUI"}},
	{domain.ColTestedProactive, []string{"active case finding"}},
	{domain.ColTestedQuarantine, []string{"returnees in quarantine facilities"}},
	{domain.ColCasesCum, []string{"Total number of confirmed cases"}},
	{"Cases Local Transmission Cum", []string{"Cases found in the community", "local transmission"}},
	{"Cases Imported Cum", []string{"Imported cases", "Cases found among travelers from abroad"}},
	{"Cases In Quarantine Cum", []string{"in quarantine facilities/centers"}},
	{"Cases Proactive Cum", []string{"Cases found by active case finding"}},
	{"Cases Area Prison Cum", []string{"Cases found in prisons"}},
}

var thAnchors = []anchorSpec{
	{domain.ColTestedCum, []string{"จำนวนการตรวจทางห้องปฏิบัติการ", "ผลตรวจทางห้องปฏิบัติการ"}},
	{domain.ColTestedPUICum, []string{"ผู้ป่วยที่มีอาการตามนิยามเฝ้าระวังโรค"}},
	{domain.ColCasesCum, []string{"ผู้ป่วยยืนยันสะสม"}},
	{"Cases Local Transmission Cum", []string{"การติดเชื้อภายในประเทศ"}},
	{"Cases Imported Cum", []string{"เดินทางมาจากต่างประเทศ"}},
	{"Cases Proactive Cum", []string{"การคัดกรองเชิงรุก", "ค้นหาเชิงรุก"}},
	{"Cases Area Prison Cum", []string{"เรือนจำ"}},
}

type Lang string

const (
	LangEN Lang = "en"
	LangTH Lang = "th"
)

type Parser struct {
	fetcher *download.Fetcher
	text    docfile.TextExtractor
}

func NewParser(fetcher *download.Fetcher, text docfile.TextExtractor) *Parser {
	return &Parser{fetcher: fetcher, text: text}
}

// Parse fetches each report URL and accumulates one row per date.
// Malformed documents are logged and skipped; a cut-short error stops
// iteration without failing the frame.
func (p *Parser) Parse(ctx context.Context, urls []string, dir string, lang Lang, check bool) (*frame.Frame, error) {
	f := frame.New("situation_"+string(lang), "Date")
	var pivot dates.Date
	for _, u := range urls {
		file, err := p.fetcher.Fetch(ctx, u, dir, check, false)
		if err != nil {
			if errors.Is(err, constants.ErrCutShort) {
				break
			}
			return nil, fmt.Errorf("situation fetch %s: %w", u, err)
		}
		if file.Missing {
			continue
		}

		pages, err := p.text.Pages(ctx, file.Path)
		if err != nil {
			logger.Warnf(ctx, "situation %s: %s", file.Path, err)
			continue
		}
		d, row, err := parseReport(strings.Join(pages, "\n"), lang)
		if err != nil {
			logger.Warnf(ctx, "situation %s: %s", file.Path, err)
			continue
		}
		// Reports walk newest first, so a date jumping past the previous
		// one is a dd/mm reversal in the header.
		if !pivot.IsZero() {
			d = dates.ToSwitchingDate(d, pivot)
		}
		pivot = d
		applyRow(ctx, f, d, row)
	}
	return f, nil
}

// applyRow adds the row after the monotonicity check: a cumulative
// field may not fall more than 1 below the latest earlier value.
func applyRow(ctx context.Context, f *frame.Frame, d dates.Date, row map[string]float64) {
	for col, v := range row {
		if corrected, ok := overrides.SituationOCR(d, col); ok {
			v = corrected
		}
		if !strings.HasSuffix(col, "Cum") {
			f.Set(frame.DateKey(d), col, v)
			continue
		}
		prev, found := latestBefore(f, d, col)
		if found && v < prev-1 {
			logger.Warnf(ctx, "situation %s %s: cumulative fell %v -> %v, rejected", d, col, prev, v)
			continue
		}
		f.Set(frame.DateKey(d), col, v)
	}
}

func latestBefore(f *frame.Frame, d dates.Date, col string) (float64, bool) {
	val, found := 0.0, false
	for _, k := range f.Keys() {
		if !k.Date.Before(d) {
			break
		}
		if v, ok := f.Value(k, col); ok {
			val, found = v, true
		}
	}
	return val, found
}

func parseReport(text string, lang Lang) (dates.Date, map[string]float64, error) {
	var d dates.Date
	var err error
	if lang == LangEN {
		d, err = dates.FindEnglishDate(text)
	} else {
		d, err = dates.FindThaiDate(text)
	}
	if err != nil {
		return dates.Date{}, nil, fmt.Errorf("situation report: %w", err)
	}

	specs := enAnchors
	if lang == LangTH {
		specs = thAnchors
	}

	row := make(map[string]float64)
	for _, spec := range specs {
		for _, anchor := range spec.anchors {
			if nums, ok := anchorNumbers(text, anchor); ok {
				row[spec.col] = float64(nums)
				break
			}
		}
	}
	if len(row) == 0 {
		return dates.Date{}, nil, fmt.Errorf("situation report %s: %w", d, constants.ErrMalformedDoc)
	}
	return d, row, nil
}

func anchorNumbers(text, anchor string) (int64, bool) {
	idx := strings.Index(text, anchor)
	if idx < 0 {
		return 0, false
	}
	rest := text[idx+len(anchor):]
	// Values sit within the same clause; cap the scan so an anchor
	// never reads numbers from a later paragraph.
	if len(rest) > 120 {
		rest = rest[:120]
	}
	nums := extract.Numbers(rest)
	if len(nums) == 0 {
		return 0, false
	}
	return nums[0], true
}

// ParseTodayHTML reads the "current situation" HTML snapshot, a
// single-row frame for today used only until the PDF arrives.
func (p *Parser) ParseTodayHTML(ctx context.Context, url string, client *http.Client) (*frame.Frame, error) {
	f := frame.New("today_situation", "Date")
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warnf(ctx, "today situation: %s", err)
		return f, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warnf(ctx, "today situation: status %d", resp.StatusCode)
		return f, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("today situation: %w", err)
	}

	today := dates.Today()
	k := frame.DateKey(today)
	doc.Find("div.todaydata div.item").Each(func(_ int, s *goquery.Selection) {
		label := strings.TrimSpace(s.Find("span.title").Text())
		nums := extract.Numbers(s.Find("span.value").Text())
		if len(nums) == 0 {
			return
		}
		switch {
		case strings.Contains(label, "ติดเชื้อสะสม"), strings.Contains(label, "Confirmed"):
			f.Set(k, domain.ColCasesCum, float64(nums[0]))
		case strings.Contains(label, "เสียชีวิต"), strings.Contains(label, "Deaths"):
			f.Set(k, domain.ColDeathsCum, float64(nums[0]))
		case strings.Contains(label, "หายป่วย"), strings.Contains(label, "Recovered"):
			f.Set(k, "Recovered Cum", float64(nums[0]))
		}
	})
	return f, nil
}
