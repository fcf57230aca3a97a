// Package moph covers the smaller MOPH feeds: the CCSA hospital-bed
// HTML dashboard, the bed-occupancy JSON endpoint, the monthly
// all-cause-death API and the IHME projection pass-through.
package moph

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/provinces"
)

type Client struct {
	fetcher  *download.Fetcher
	resolver *provinces.Resolver
}

func NewClient(fetcher *download.Fetcher, resolver *provinces.Resolver) *Client {
	return &Client{fetcher: fetcher, resolver: resolver}
}

// bed-resource row labels on the CCSA dashboard mapped to columns.
var bedLabels = map[string]string{
	"เตียงทั้งหมด":    "Bed All",
	"เตียงว่าง":       "Bed Available",
	" icu":            "Bed ICU",
	"เครื่องช่วยหายใจ": "Respirator All",
	"ห้องความดันลบ":   "Bed AIIR",
}

// ParseHospitalResources scrapes the bed-capacity HTML dashboard. The
// page is a table of resource rows with total and available counts,
// snapshot as of the page's stated date.
func ParseHospitalResources(html string) (*frame.Frame, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("ParseHospitalResources: %w", err)
	}

	date, err := dates.FindThaiDate(doc.Text())
	if err != nil {
		date = dates.Today()
	}
	k := frame.DateKey(date)

	f := frame.New("hospital_resources", "Date")
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToLower(strings.TrimSpace(cells.First().Text()))
		col := ""
		for want, name := range bedLabels {
			if strings.Contains(label, want) {
				col = name
				break
			}
		}
		if col == "" {
			return
		}
		nums := extract.Numbers(cells.Slice(1, cells.Length()).Text())
		if len(nums) > 0 {
			f.Set(k, col, float64(nums[0]))
		}
		if len(nums) > 1 {
			f.Set(k, col+" Used", float64(nums[0]-nums[1]))
		}
	})

	if len(f.Keys()) == 0 {
		return nil, fmt.Errorf("ParseHospitalResources: no resource rows: %w", constants.ErrMalformedDoc)
	}
	return f, nil
}

type bedRow struct {
	Date     string  `json:"date"`
	Province string  `json:"province"`
	BedAll   float64 `json:"bed_all"`
	BedUsed  float64 `json:"bed_used"`
	ICUAll   float64 `json:"icu_all"`
	ICUUsed  float64 `json:"icu_used"`
}

// ParseBedJSON reads the bed-occupancy endpoint: one row per
// (date, province).
func (c *Client) ParseBedJSON(ctx context.Context, raw []byte) (*frame.Frame, error) {
	var rows []bedRow
	if err := sonic.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("ParseBedJSON: %w", err)
	}

	f := frame.New("moph_bed", "Date", "Province")
	for _, row := range rows {
		d, err := dates.Parse(row.Date)
		if err != nil {
			continue
		}
		name, rerr := c.resolver.GetOpts(row.Province, provinces.GetOpts{IgnoreError: true, Source: "moph_bed"})
		if rerr != nil || name == "" {
			continue
		}
		k := frame.Key{Date: d, Province: name}
		f.Set(k, "Bed All", row.BedAll)
		f.Set(k, "Bed Used", row.BedUsed)
		f.Set(k, "Bed ICU All", row.ICUAll)
		f.Set(k, "Bed ICU Used", row.ICUUsed)
	}
	return f, nil
}

// baseline years for the excess-death comparison.
const (
	baselineFrom = 2015
	baselineTo   = 2019
)

type DeathRow struct {
	Year     int     // CE
	Month    time.Month
	Province string
	Deaths   float64
}

// ExcessDeaths turns monthly all-cause death rows into a per-province
// monthly frame with the 2015-2019 mean as baseline and the excess
// over it. Rows from the baseline window feed the mean and are not
// emitted.
func (c *Client) ExcessDeaths(ctx context.Context, rows []DeathRow) (*frame.Frame, error) {
	type pm struct {
		prov  string
		month time.Month
	}
	sums := make(map[pm]float64)
	counts := make(map[pm]int)
	for _, r := range rows {
		if r.Year < baselineFrom || r.Year > baselineTo {
			continue
		}
		key := pm{r.Province, r.Month}
		sums[key] += r.Deaths
		counts[key]++
	}

	f := frame.New("deaths_all", "Date", "Province")
	for _, r := range rows {
		if r.Year <= baselineTo {
			continue
		}
		name, err := c.resolver.GetOpts(r.Province, provinces.GetOpts{IgnoreError: true, Source: "excess_deaths"})
		if err != nil || name == "" {
			continue
		}
		key := pm{r.Province, r.Month}
		n := counts[key]
		if n == 0 {
			continue
		}
		mean := sums[key] / float64(n)

		// Month rows land on the first of the month.
		k := frame.Key{Date: dates.New(r.Year, r.Month, 1), Province: name}
		f.Set(k, "Deaths All", r.Deaths)
		f.Set(k, "Deaths All Baseline", mean)
		f.Set(k, "Deaths Excess", r.Deaths-mean)
	}
	return f, nil
}

// ParseDeathRows decodes the all-cause API's CSV payload: columns
// year (BE), month, province, deaths.
func ParseDeathRows(raw []byte) ([]DeathRow, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ParseDeathRows: %w", err)
	}
	var rows []DeathRow
	for i, rec := range records {
		if i == 0 || len(rec) < 4 {
			continue
		}
		y, ok1 := extract.CleanInt(rec[0])
		m, ok2 := extract.CleanInt(rec[1])
		v, ok3 := extract.CleanFloat(rec[3])
		if !ok1 || !ok2 || !ok3 || m < 1 || m > 12 {
			continue
		}
		year := int(y)
		if year >= 2400 {
			year -= 543
		}
		rows = append(rows, DeathRow{
			Year: year, Month: time.Month(m), Province: strings.TrimSpace(rec[2]), Deaths: v,
		})
	}
	return rows, nil
}

// IHME ingests the projection CSV filtered to Thailand, keyed by date.
// Columns pass through with an "IHME " prefix.
func IHME(ctx context.Context, raw []byte) (*frame.Frame, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("IHME: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("IHME: empty csv: %w", constants.ErrMalformedDoc)
	}

	header := records[0]
	dateCol, locCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			dateCol = i
		case "location_name", "location":
			locCol = i
		}
	}
	if dateCol < 0 {
		return nil, fmt.Errorf("IHME: no date column: %w", constants.ErrMalformedDoc)
	}

	f := frame.New("ihme", "Date")
	for _, rec := range records[1:] {
		if locCol >= 0 && locCol < len(rec) && !strings.EqualFold(strings.TrimSpace(rec[locCol]), "Thailand") {
			continue
		}
		if dateCol >= len(rec) {
			continue
		}
		d, err := dates.Parse(rec[dateCol])
		if err != nil {
			continue
		}
		k := frame.DateKey(d)
		for i, h := range header {
			if i == dateCol || i == locCol || i >= len(rec) {
				continue
			}
			if v, ok := extract.CleanFloat(rec[i]); ok {
				f.Set(k, "IHME "+strings.TrimSpace(h), v)
			}
		}
	}
	if len(f.Keys()) == 0 {
		logger.Warnf(ctx, "IHME: no Thailand rows")
	}
	return f, nil
}
