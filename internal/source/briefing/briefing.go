// Package briefing parses the daily CCSA briefing PDFs: the case-type
// infographic, per-province breakdowns, death details and vaccination
// totals.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

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

// caseTypeTolerance is how far the type breakdown may diverge from the
// reported total before the row is rejected.
const caseTypeTolerance = 0.005

// provinceCoverage is the minimum share of the day's type total that
// the per-province rows must account for.
const provinceCoverage = 0.77

type Parser struct {
	fetcher  *download.Fetcher
	text     docfile.TextExtractor
	resolver *provinces.Resolver
}

func NewParser(fetcher *download.Fetcher, text docfile.TextExtractor, resolver *provinces.Resolver) *Parser {
	return &Parser{fetcher: fetcher, text: text, resolver: resolver}
}

// Result carries the frames one briefing run produces.
type Result struct {
	Briefings *frame.Frame // by Date
	Provinces *frame.Frame // by (Date, Province)
	Deaths    *frame.Frame // by (Date, Province)
	Vac       *frame.Frame // daily dose totals, by Date
}

func (p *Parser) Parse(ctx context.Context, urls []string, dir string, check bool) (*Result, error) {
	res := &Result{
		Briefings: frame.New("cases_briefings", "Date"),
		Provinces: frame.New("briefings_prov", "Date", "Province"),
		Deaths:    frame.New("deaths_prov", "Date", "Province"),
		Vac:       frame.New("briefings_vac", "Date"),
	}
	for _, u := range urls {
		file, err := p.fetcher.Fetch(ctx, u, dir, check, false)
		if err != nil {
			if errors.Is(err, constants.ErrCutShort) {
				break
			}
			return nil, fmt.Errorf("briefing fetch %s: %w", u, err)
		}
		if file.Missing {
			continue
		}
		pages, err := p.text.Pages(ctx, file.Path)
		if err != nil {
			logger.Warnf(ctx, "briefing %s: %s", file.Path, err)
			continue
		}
		if err := p.parseDoc(ctx, strings.Join(pages, "\n"), res); err != nil {
			logger.Warnf(ctx, "briefing %s: %s", file.Path, err)
		}
	}
	return res, nil
}

func (p *Parser) parseDoc(ctx context.Context, text string, res *Result) error {
	d, err := dates.FindThaiDate(text)
	if err != nil {
		return fmt.Errorf("briefing: %w", err)
	}

	if row, err := parseCaseTypes(text, d); err != nil {
		logger.Warnf(ctx, "briefing %s case types: %s", d, err)
	} else {
		res.Briefings.SetRow(frame.DateKey(d), row)
	}

	if err := p.parseProvinceCases(ctx, text, d, res); err != nil {
		logger.Warnf(ctx, "briefing %s provinces: %s", d, err)
	}

	if row, provDeaths, err := p.parseDeaths(ctx, text, d); err == nil {
		res.Briefings.SetRow(frame.DateKey(d), row)
		for prov, n := range provDeaths {
			res.Deaths.Set(frame.ProvinceKey(d, prov), domain.ColDeaths, n)
		}
	}

	if row := parseVacTotals(text); len(row) > 0 {
		res.Vac.SetRow(frame.DateKey(d), row)
	}
	return nil
}

var caseTypeAnchors = []struct {
	col     string
	anchors []string
}{
	{domain.ColCases, []string{"ผู้ติดเชื้อรายใหม่ รวม", "ผู้ป่วยรายใหม่ รวม", "ผู้ติดเชื้อรายใหม่"}},
	{domain.ColCasesWalkin, []string{"ผู้ป่วยรายใหม่จากระบบเฝ้าระวัง", "จากระบบเฝ้าระวังและระบบบริการ"}},
	{domain.ColCasesProactive, []string{"ค้นหาผู้ติดเชื้อเชิงรุกในชุมชน", "คัดกรองเชิงรุก"}},
	{domain.ColCasesAreaPrison, []string{"เรือนจำ/ที่ต้องขัง", "ในเรือนจำ"}},
	{domain.ColCasesImported, []string{"ผู้เดินทางมาจากต่างประเทศ", "เดินทางมาจากต่างประเทศ"}},
	{domain.ColRecovered, []string{"หายป่วยกลับบ้าน", "หายป่วยเพิ่มขึ้น"}},
	{domain.ColHospitalized, []string{"กำลังรักษา", "รักษาตัวอยู่"}},
}

// parseCaseTypes reads the infographic table and cross-checks the type
// breakdown against the reported total.
func parseCaseTypes(text string, d dates.Date) (map[string]float64, error) {
	row := make(map[string]float64)
	for _, spec := range caseTypeAnchors {
		if nums, ok := extract.AnyAnchor(text, spec.anchors, 1); ok {
			row[spec.col] = float64(nums[0])
		}
	}
	total, hasTotal := row[domain.ColCases]
	if !hasTotal {
		return nil, fmt.Errorf("briefing %s: no case total: %w", d, constants.ErrMalformedDoc)
	}

	sum := decimal.Zero
	for _, col := range []string{domain.ColCasesWalkin, domain.ColCasesProactive, domain.ColCasesImported, domain.ColCasesAreaPrison} {
		sum = sum.Add(decimal.NewFromFloat(row[col]))
	}
	diff := sum.Sub(decimal.NewFromFloat(total)).Abs()
	limit := decimal.NewFromFloat(total * caseTypeTolerance)
	if diff.GreaterThan(limit) && !overrides.CaseTypeMismatchAllowed(d) {
		return nil, fmt.Errorf("briefing %s: case types sum %s != total %v: %w",
			d, sum, total, constants.ErrValidation)
	}
	return row, nil
}

// provinceLineRE matches "จังหวัด 123 (45)" rows: new cases with the
// proactive share in parentheses.
var provinceLineRE = regexp.MustCompile(`^([\p{Thai}][\p{Thai}\s.]*?)\s+([\d,]+)(?:\s*\(([\d,]+)\))?\s*(?:ราย)?$`)

func (p *Parser) parseProvinceCases(ctx context.Context, text string, d dates.Date, res *Result) error {
	start := strings.Index(text, "จำนวนผู้ติดเชื้อโควิดในประเทศรายใหม่")
	if start < 0 {
		start = strings.Index(text, "10 จังหวัดอันดับแรก")
	}
	if start < 0 {
		return fmt.Errorf("briefing %s: no province section: %w", d, constants.ErrMalformedDoc)
	}

	seen := 0.0
	for _, line := range extract.Lines(text[start:]) {
		m := provinceLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		prov, err := p.resolver.GetOpts(m[1], provinces.GetOpts{IgnoreError: true, Split: true, Source: "briefing"})
		if err != nil || prov == "" {
			continue
		}
		total, ok := extract.CleanInt(m[2])
		if !ok {
			continue
		}
		k := frame.ProvinceKey(d, prov)
		res.Provinces.Set(k, domain.ColCases, float64(total))
		if m[3] != "" {
			if proactive, ok := extract.CleanInt(m[3]); ok {
				res.Provinces.Set(k, domain.ColCasesProactive, float64(proactive))
				res.Provinces.Set(k, domain.ColCasesWalkin, float64(total-proactive))
			}
		}
		seen += float64(total)
	}

	if typeTotal, ok := res.Briefings.Value(frame.DateKey(d), domain.ColCases); ok && typeTotal > 0 {
		if seen/typeTotal < provinceCoverage {
			return fmt.Errorf("briefing %s: province rows cover %.0f of %.0f: %w",
				d, seen, typeTotal, constants.ErrValidation)
		}
	}
	return nil
}

var (
	deathAgeRE    = regexp.MustCompile(`อายุ(?:เฉลี่ย|กลาง)?\s*([\d.]+)\s*ปี\s*\(\s*([\d.]+)\s*[-–]\s*([\d.]+)\s*ปี?\s*\)`)
	deathGenderRE = regexp.MustCompile(`ชาย\s*([\d,]+)\s*ราย.{0,20}?หญิง\s*([\d,]+)\s*ราย`)
	deathProvRE   = regexp.MustCompile(`([\p{Thai}.]+)\s+([\d,]+)\s*ราย`)
)

var comorbidityAnchors = map[string][]string{
	"Hypertension":   {"ความดันโลหิตสูง"},
	"Diabetes":       {"เบาหวาน"},
	"Hyperlipidemia": {"ไขมันในเลือดสูง"},
	"Kidney Disease": {"โรคไต", "ไตเรื้อรัง"},
	"Heart Disease":  {"โรคหัวใจ"},
	"Obesity":        {"โรคอ้วน", "อ้วน"},
	"Lung Disease":   {"โรคปอด"},
	"Cancer":         {"มะเร็ง"},
	"Stroke":         {"หลอดเลือดสมอง"},
	"Bedridden":      {"ติดเตียง"},
	"Pregnant":       {"ตั้งครรภ์"},
	"None":           {"ไม่มีโรคประจำตัว"},
}

var riskAnchors = map[string][]string{
	"Family":    {"สัมผัสในครอบครัว", "คนในครอบครัว"},
	"Community": {"สัมผัสในชุมชน", "อาศัยในพื้นที่ระบาด"},
	"Work":      {"สัมผัสจากการทำงาน", "อาชีพเสี่ยง"},
	"HCW":       {"บุคลากรทางการแพทย์"},
	"Unknown":   {"อยู่ระหว่างสอบสวน", "ไม่ทราบ"},
}

// parseDeaths reads the death slide: per-day demographic summary and
// per-province counts. Older layouts list one row per death; newer
// ones aggregate, and both end up as (Date, Province) counts.
func (p *Parser) parseDeaths(ctx context.Context, text string, d dates.Date) (map[string]float64, map[string]float64, error) {
	start := strings.Index(text, "ผู้เสียชีวิต")
	if start < 0 {
		return nil, nil, constants.ErrMalformedDoc
	}
	section := text[start:]
	if end := strings.Index(section, "หายป่วยกลับบ้าน"); end > 0 {
		section = section[:end]
	}

	row := make(map[string]float64)
	if nums, ok := extract.AfterAnchor(section, "ผู้เสียชีวิต", 1); ok {
		row[domain.ColDeaths] = float64(nums[0])
	}
	if m := deathAgeRE.FindStringSubmatch(section); m != nil {
		if v, ok := extract.CleanFloat(m[1]); ok {
			row[domain.ColDeathsAgeMedian] = v
		}
		if v, ok := extract.CleanFloat(m[2]); ok {
			row[domain.ColDeathsAgeMin] = v
		}
		if v, ok := extract.CleanFloat(m[3]); ok {
			row[domain.ColDeathsAgeMax] = v
		}
	}
	if m := deathGenderRE.FindStringSubmatch(section); m != nil {
		if v, ok := extract.CleanInt(m[1]); ok {
			row[domain.ColDeathsMale] = float64(v)
		}
		if v, ok := extract.CleanInt(m[2]); ok {
			row[domain.ColDeathsFemale] = float64(v)
		}
	}
	for kind, anchors := range comorbidityAnchors {
		if nums, ok := extract.AnyAnchor(section, anchors, 1); ok {
			row[domain.DeathsComorbidity(kind)] = float64(nums[0])
		}
	}
	for kind, anchors := range riskAnchors {
		if nums, ok := extract.AnyAnchor(section, anchors, 1); ok {
			row[domain.DeathsRisk(kind)] = float64(nums[0])
		}
	}

	provDeaths := make(map[string]float64)
	for _, m := range deathProvRE.FindAllStringSubmatch(section, -1) {
		prov, err := p.resolver.GetOpts(m[1], provinces.GetOpts{IgnoreError: true, Source: "briefing-deaths"})
		if err != nil || prov == "" {
			continue
		}
		if n, ok := extract.CleanInt(m[2]); ok {
			provDeaths[prov] += float64(n)
		}
	}
	return row, provDeaths, nil
}

var vacDoseRE = regexp.MustCompile(`เข็มที่\s*(\d)\s*(?:จำนวน|สะสม)?\s*([\d,]+)\s*ราย`)

// parseVacTotals reads the daily vaccination summary on the briefing.
func parseVacTotals(text string) map[string]float64 {
	row := make(map[string]float64)
	for _, m := range vacDoseRE.FindAllStringSubmatch(text, -1) {
		dose := int(m[1][0] - '0')
		if dose < 1 || dose > 4 {
			continue
		}
		if v, ok := extract.CleanInt(m[2]); ok {
			// The briefing reports daily totals, not cumulative.
			row[fmt.Sprintf("Vac Given %d", dose)] = float64(v)
		}
	}
	return row
}
