// Package weekly pulls the DDC weekly case and death APIs. Rows are
// keyed by Buddhist-Era (year, weeknum); each week lands on its ISO
// week-end date. Raw rows are cached on disk so reruns only patch the
// tail of the series.
package weekly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/pkg/pagedjson"
	"github.com/thcovid/thcovid/internal/provinces"
)

const (
	casesURL         = "https://covid19.ddc.moph.go.th/api/Cases/timeline-cases-all"
	casesProvinceURL = "https://covid19.ddc.moph.go.th/api/Cases/timeline-cases-by-provinces"
	deathsURL        = "https://covid19.ddc.moph.go.th/api/Deaths/timeline-deaths-all"
)

type Client struct {
	walker   *pagedjson.Walker
	resolver *provinces.Resolver
	dir      string

	// Endpoint overrides, for tests.
	CasesURL         string
	CasesProvinceURL string
	DeathsURL        string
}

func NewClient(walker *pagedjson.Walker, resolver *provinces.Resolver, dir string) *Client {
	return &Client{
		walker:           walker,
		resolver:         resolver,
		dir:              dir,
		CasesURL:         casesURL,
		CasesProvinceURL: casesProvinceURL,
		DeathsURL:        deathsURL,
	}
}

type Result struct {
	National  *frame.Frame // timelineapi: weekly cases/deaths on week-end dates
	Provinces *frame.Frame // api_provs: weekly per-province rows
}

func (c *Client) Update(ctx context.Context) (*Result, error) {
	res := &Result{
		National:  frame.New("timelineapi", "Date"),
		Provinces: frame.New("api_provs", "Date", "Province"),
	}

	national, err := c.series(ctx, c.CasesURL, "cases_weekly.json")
	if err != nil {
		return nil, err
	}
	for _, row := range national {
		d, ok := rowDate(row)
		if !ok {
			continue
		}
		k := frame.DateKey(d)
		setNum(res.National, k, domain.ColCases, row, "new_case")
		setNum(res.National, k, domain.ColCasesCum, row, "total_case")
	}

	deaths, err := c.series(ctx, c.DeathsURL, "deaths_weekly.json")
	if err != nil {
		return nil, err
	}
	for _, row := range deaths {
		d, ok := rowDate(row)
		if !ok {
			continue
		}
		k := frame.DateKey(d)
		setNum(res.National, k, domain.ColDeaths, row, "new_death")
		setNum(res.National, k, domain.ColDeathsCum, row, "total_death")
	}

	byProv, err := c.series(ctx, c.CasesProvinceURL, "cases_by_province_weekly.json")
	if err != nil {
		return nil, err
	}
	for _, row := range byProv {
		d, ok := rowDate(row)
		if !ok {
			continue
		}
		raw, _ := row["province"].(string)
		name, err := c.resolver.GetOpts(raw, provinces.GetOpts{IgnoreError: true, Source: "weekly_api"})
		if err != nil || name == "" {
			continue
		}
		k := frame.Key{Date: d, Province: name}
		setNum(res.Provinces, k, domain.ColCases, row, "new_case")
		setNum(res.Provinces, k, domain.ColCasesCum, row, "total_case")
		setNum(res.Provinces, k, domain.ColDeaths, row, "new_death")
		setNum(res.Provinces, k, domain.ColDeathsCum, row, "total_death")
	}

	return res, nil
}

// series walks one endpoint, splicing against the on-disk row cache,
// and rewrites the cache with whatever came back.
func (c *Client) series(ctx context.Context, url, cacheName string) ([]pagedjson.Row, error) {
	path := filepath.Join(c.dir, cacheName)
	cached := loadCache(ctx, path)

	rows, err := c.walker.Walk(ctx, url, cached, weekKey)
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", url, err)
	}
	if len(rows) > 0 {
		saveCache(ctx, path, rows)
	}
	return rows, nil
}

func loadCache(ctx context.Context, path string) []pagedjson.Row {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rows []pagedjson.Row
	if err := sonic.Unmarshal(raw, &rows); err != nil {
		logger.Warnf(ctx, "weekly cache %s: %s", path, err)
		return nil
	}
	return rows
}

func saveCache(ctx context.Context, path string, rows []pagedjson.Row) {
	raw, err := sonic.Marshal(rows)
	if err != nil {
		logger.Warnf(ctx, "weekly cache %s: %s", path, err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logger.Warnf(ctx, "weekly cache %s: %s", path, err)
	}
}

// weekKey orders rows by the API's BE year and week number.
func weekKey(row pagedjson.Row) (int, int, bool) {
	y, ok1 := intField(row, "year")
	w, ok2 := intField(row, "weeknum")
	return y, w, ok1 && ok2
}

func rowDate(row pagedjson.Row) (dates.Date, bool) {
	y, w, ok := weekKey(row)
	if !ok || w < 1 || w > 53 {
		return dates.Date{}, false
	}
	if y < 2400 {
		// Some row batches already carry CE years.
		return dates.WeekEnd(y, w), true
	}
	return dates.WeekEndBE(y, w), true
}

func intField(row pagedjson.Row, field string) (int, bool) {
	switch v := row[field].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func setNum(f *frame.Frame, k frame.Key, col string, row pagedjson.Row, field string) {
	switch v := row[field].(type) {
	case float64:
		f.Set(k, col, v)
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f.Set(k, col, n)
		}
	}
}
