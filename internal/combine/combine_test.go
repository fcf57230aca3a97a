package combine

import (
	"context"
	"testing"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/config"
	"github.com/thcovid/thcovid/internal/provinces"
)

func dayFrame(name string, d dates.Date, cells map[string]float64) *frame.Frame {
	f := frame.New(name, "Date")
	for col, v := range cells {
		f.Set(frame.DateKey(d), col, v)
	}
	return f
}

func TestBuildDashboardOutranksBriefingForCaseTotals(t *testing.T) {
	d := dates.New(2021, 7, 1)
	frames := Frames{
		"cases_briefings": dayFrame("cases_briefings", d, map[string]float64{
			domain.ColCases: 50, domain.ColCasesImported: 5,
		}),
		"dash_daily": dayFrame("dash_daily", d, map[string]float64{
			domain.ColCases: 55,
		}),
	}

	out := Build(context.Background(), frames)

	k := frame.DateKey(d)
	if v, _ := out.Combined.Value(k, domain.ColCases); v != 55 {
		t.Errorf("Cases = %v, want 55 (dashboard wins the family)", v)
	}
	// Columns the dashboard does not carry still come from the briefing.
	if v, _ := out.Combined.Value(k, domain.ColCasesImported); v != 5 {
		t.Errorf("Cases Imported = %v, want 5", v)
	}
}

func TestBuildProvincePrecedence(t *testing.T) {
	d := dates.New(2021, 7, 1)
	kBkk := frame.Key{Date: d, Province: "Bangkok"}
	kCm := frame.Key{Date: d, Province: "Chiang Mai"}

	briefings := frame.New("briefings_prov", "Date", "Province")
	briefings.Set(kBkk, domain.ColCases, 100)
	briefings.Set(kCm, domain.ColCases, 40)

	dash := frame.New("dash_by_province", "Date", "Province")
	dash.Set(kBkk, domain.ColCases, 120)

	out := Build(context.Background(), Frames{
		"briefings_prov":   briefings,
		"dash_by_province": dash,
	})

	if v, _ := out.ByProvince.Value(kBkk, domain.ColCases); v != 120 {
		t.Errorf("Bangkok = %v, want 120 (dashboard over briefing)", v)
	}
	if v, _ := out.ByProvince.Value(kCm, domain.ColCases); v != 40 {
		t.Errorf("Chiang Mai = %v, want 40 (briefing fills the gap)", v)
	}
}

func TestBuildRenamesHistoricalSevereColumn(t *testing.T) {
	d := dates.New(2021, 5, 1)
	k := frame.Key{Date: d, Province: "Bangkok"}
	dash := frame.New("dash_by_province", "Date", "Province")
	dash.Set(k, domain.ColHospSevere, 30)

	out := Build(context.Background(), Frames{"dash_by_province": dash})

	if v, _ := out.ByProvince.Value(k, domain.ColCasesProactive); v != 30 {
		t.Errorf("Cases Proactive = %v, want 30 via rename", v)
	}
	if _, ok := out.ByProvince.Value(k, domain.ColHospSevere); ok {
		t.Error("Hospitalized Severe survived the rename")
	}
}

func TestBuildAggregatesProvincesIntoAreas(t *testing.T) {
	d := dates.New(2021, 7, 1)
	prov := frame.New("briefings_prov", "Date", "Province")
	prov.Set(frame.Key{Date: d, Province: "Nonthaburi"}, domain.ColCases, 50)
	prov.Set(frame.Key{Date: d, Province: "Pathum Thani"}, domain.ColCases, 25)

	out := Build(context.Background(), Frames{"briefings_prov": prov})

	if v, _ := out.ByArea.Value(frame.DateKey(d), domain.CasesArea(4)); v != 75 {
		t.Errorf("Cases Area 4 = %v, want 75", v)
	}
	if v, _ := out.Combined.Value(frame.DateKey(d), domain.CasesArea(4)); v != 75 {
		t.Errorf("combined Cases Area 4 = %v, want 75", v)
	}
}

func TestBuildSituationMergeWithToday(t *testing.T) {
	d1 := dates.New(2021, 7, 1)
	d2 := dates.New(2021, 7, 2)
	frames := Frames{
		"situation_th": dayFrame("situation_th", d1, map[string]float64{domain.ColTestedCum: 1000}),
		"situation_en": dayFrame("situation_en", d1, map[string]float64{
			domain.ColTestedCum: 999, domain.ColTestedPUICum: 500,
		}),
		"situation_today": dayFrame("situation_today", d2, map[string]float64{domain.ColTestedCum: 1100}),
	}

	out := Build(context.Background(), frames)

	k1 := frame.DateKey(d1)
	if v, _ := out.Situation.Value(k1, domain.ColTestedCum); v != 1000 {
		t.Errorf("Tested Cum = %v, want 1000 (th over en)", v)
	}
	if v, _ := out.Situation.Value(k1, domain.ColTestedPUICum); v != 500 {
		t.Errorf("Tested PUI Cum = %v, want 500 (en fills)", v)
	}
	if v, _ := out.Situation.Value(frame.DateKey(d2), domain.ColTestedCum); v != 1100 {
		t.Errorf("today's Tested Cum = %v, want 1100", v)
	}
}

func TestBuildSanitizesCumulativeColumns(t *testing.T) {
	f := frame.New("timelineapi", "Date")
	f.Set(frame.DateKey(dates.New(2021, 7, 1)), domain.ColCasesCum, 100)
	f.Set(frame.DateKey(dates.New(2021, 7, 2)), domain.ColCasesCum, 90)
	f.Set(frame.DateKey(dates.New(2021, 7, 3)), domain.ColCasesCum, 110)

	out := Build(context.Background(), Frames{"timelineapi": f})

	if _, ok := out.Combined.Value(frame.DateKey(dates.New(2021, 7, 2)), domain.ColCasesCum); ok {
		t.Error("non-monotonic cumulative cell survived")
	}
	if v, _ := out.Combined.Value(frame.DateKey(dates.New(2021, 7, 3)), domain.ColCasesCum); v != 110 {
		t.Errorf("later cell = %v, want 110", v)
	}
}

func TestBuildSanitizesDoseCumulatives(t *testing.T) {
	f := frame.New("vac_timeline", "Date")
	f.Set(frame.DateKey(dates.New(2021, 7, 1)), domain.VacGiven(1), 100)
	f.Set(frame.DateKey(dates.New(2021, 7, 2)), domain.VacGiven(1), 90)
	f.Set(frame.DateKey(dates.New(2021, 7, 3)), domain.VacGiven(1), 110)

	out := Build(context.Background(), Frames{"vac_timeline": f})

	for _, g := range []*frame.Frame{out.Combined, out.Vac} {
		if _, ok := g.Value(frame.DateKey(dates.New(2021, 7, 2)), domain.VacGiven(1)); ok {
			t.Errorf("%s: non-monotonic dose cumulative survived", g.Name())
		}
		if v, _ := g.Value(frame.DateKey(dates.New(2021, 7, 3)), domain.VacGiven(1)); v != 110 {
			t.Errorf("%s: later cell = %v, want 110", g.Name(), v)
		}
	}
}

func TestBuildDerivesDailyTestedFromCumulative(t *testing.T) {
	f := frame.New("timelineapi", "Date")
	f.Set(frame.DateKey(dates.New(2021, 7, 1)), domain.ColTestedCum, 100)
	f.Set(frame.DateKey(dates.New(2021, 7, 2)), domain.ColTestedCum, 250)
	f.Set(frame.DateKey(dates.New(2021, 7, 3)), domain.ColTestedCum, 300)
	// A reported daily value must not be overwritten by the difference.
	f.Set(frame.DateKey(dates.New(2021, 7, 3)), domain.ColTested, 49)

	out := Build(context.Background(), Frames{"timelineapi": f})

	if v, _ := out.Combined.Value(frame.DateKey(dates.New(2021, 7, 2)), domain.ColTested); v != 150 {
		t.Errorf("derived daily = %v, want 150", v)
	}
	if v, _ := out.Combined.Value(frame.DateKey(dates.New(2021, 7, 3)), domain.ColTested); v != 49 {
		t.Errorf("reported daily = %v, want 49", v)
	}
}

func TestBuildIsIdempotentOverItsOwnOutput(t *testing.T) {
	d := dates.New(2021, 7, 1)
	frames := Frames{
		"cases_briefings": dayFrame("cases_briefings", d, map[string]float64{domain.ColCases: 50}),
		"twcases":         dayFrame("twcases", d, map[string]float64{domain.ColCases: 51, domain.ColDeaths: 3}),
	}

	first := Build(context.Background(), frames)
	again := first.Combined.CombineFirst(first.Combined)
	for _, k := range first.Combined.Keys() {
		for col, v := range first.Combined.Row(k) {
			if got, _ := again.Value(k, col); got != v {
				t.Fatalf("combine_first not idempotent at %s %s: %v != %v", k.Date, col, got, v)
			}
		}
	}
}

func TestRunCacheModeShortCircuits(t *testing.T) {
	dir := t.TempDir()
	store := frame.NewStore(dir)
	prev := dayFrame("combined", dates.New(2021, 7, 1), map[string]float64{domain.ColCases: 42})
	if err := store.Export(prev, "combined", true); err != nil {
		t.Fatal(err)
	}

	ran := false
	job := Job{Name: "briefings", Run: func(context.Context) (Frames, error) {
		ran = true
		return nil, nil
	}}
	cfg := &config.Config{UseCacheData: true, MaxDays: 0}
	c := New(cfg, store, provinces.NewResolver(), job)

	got, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if ran {
		t.Error("cache-mode run executed a parser")
	}
	if v, _ := got.Value(frame.DateKey(dates.New(2021, 7, 1)), domain.ColCases); v != 42 {
		t.Errorf("stored Cases = %v, want 42", v)
	}
}

func TestRunAttachesHealthDistrictToProvinceExport(t *testing.T) {
	dir := t.TempDir()
	store := frame.NewStore(dir)
	d := dates.New(2021, 7, 1)

	job := Job{Name: "briefings", Run: func(context.Context) (Frames, error) {
		f := frame.New("briefings_prov", "Date", "Province")
		// A raw Thai key that no parser canonicalized.
		f.Set(frame.Key{Date: d, Province: "กทม."}, domain.ColCases, 100)
		return Frames{"briefings_prov": f}, nil
	}}

	c := New(&config.Config{}, store, provinces.NewResolver(), job)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}

	exported, err := store.ImportCSV("cases_by_province", "Date", "Province")
	if err != nil {
		t.Fatal(err)
	}
	k := frame.Key{Date: d, Province: "Bangkok"}
	if v, _ := exported.Value(k, domain.ColCases); v != 100 {
		t.Errorf("Bangkok cases = %v, want 100 under the canonical name", v)
	}
	if v, _ := exported.Value(k, provinces.ColHealthDistrict); v != 13 {
		t.Errorf("Bangkok district = %v, want 13", v)
	}
}

func TestRunFailedSourceDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	store := frame.NewStore(dir)
	d := dates.New(2021, 7, 1)

	broken := Job{Name: "dashboard", Run: func(context.Context) (Frames, error) {
		return nil, context.DeadlineExceeded
	}}
	working := Job{Name: "briefings", Run: func(context.Context) (Frames, error) {
		return Frames{"cases_briefings": dayFrame("cases_briefings", d, map[string]float64{domain.ColCases: 50})}, nil
	}}

	c := New(&config.Config{}, store, provinces.NewResolver(), broken, working)
	got, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if v, _ := got.Value(frame.DateKey(d), domain.ColCases); v != 50 {
		t.Errorf("Cases = %v, want 50 from the surviving source", v)
	}
}
