package moph

import (
	"context"
	"testing"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/provinces"
)

func TestParseHospitalResources(t *testing.T) {
	html := `<html><body>
	<p>ข้อมูล ณ วันที่ 10 พฤษภาคม 2564</p>
	<table>
	<tr><th>ทรัพยากร</th><th>ทั้งหมด</th><th>ว่าง</th></tr>
	<tr><td>เตียงทั้งหมด</td><td>10,000</td><td>4,000</td></tr>
	<tr><td>เครื่องช่วยหายใจ</td><td>1,200</td><td>900</td></tr>
	<tr><td>อื่นๆ</td><td>5</td><td>5</td></tr>
	</table></body></html>`

	f, err := ParseHospitalResources(html)
	if err != nil {
		t.Fatalf("ParseHospitalResources: %s", err)
	}

	k := frame.DateKey(dates.New(2021, 5, 10))
	if v, _ := f.Value(k, "Bed All"); v != 10000 {
		t.Errorf("Bed All = %v, want 10000", v)
	}
	if v, _ := f.Value(k, "Bed All Used"); v != 6000 {
		t.Errorf("Bed All Used = %v, want 6000", v)
	}
	if v, _ := f.Value(k, "Respirator All"); v != 1200 {
		t.Errorf("Respirator All = %v, want 1200", v)
	}
}

func TestParseHospitalResourcesEmpty(t *testing.T) {
	if _, err := ParseHospitalResources("<html><body><p>maintenance</p></body></html>"); err == nil {
		t.Fatal("want error for a page without resource rows")
	}
}

func TestParseBedJSON(t *testing.T) {
	c := NewClient(nil, provinces.NewResolver())
	raw := []byte(`[
		{"date":"2021-08-01","province":"กรุงเทพมหานคร","bed_all":500,"bed_used":420,"icu_all":50,"icu_used":48},
		{"date":"2021-08-01","province":"รวม","bed_all":9999,"bed_used":1,"icu_all":1,"icu_used":1},
		{"date":"bad","province":"เชียงใหม่","bed_all":1,"bed_used":1,"icu_all":1,"icu_used":1}
	]`)

	f, err := c.ParseBedJSON(context.Background(), raw)
	if err != nil {
		t.Fatalf("ParseBedJSON: %s", err)
	}

	k := frame.Key{Date: dates.New(2021, 8, 1), Province: "Bangkok"}
	if v, _ := f.Value(k, "Bed Used"); v != 420 {
		t.Errorf("Bed Used = %v, want 420", v)
	}
	if got := len(f.Keys()); got != 1 {
		t.Errorf("rows = %d, want 1 (aggregate and bad-date rows dropped)", got)
	}
}

func TestExcessDeaths(t *testing.T) {
	c := NewClient(nil, provinces.NewResolver())
	rows := []DeathRow{
		{Year: 2015, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 100},
		{Year: 2016, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 110},
		{Year: 2017, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 120},
		{Year: 2018, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 130},
		{Year: 2019, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 140},
		{Year: 2021, Month: time.January, Province: "กรุงเทพมหานคร", Deaths: 200},
	}

	f, err := c.ExcessDeaths(context.Background(), rows)
	if err != nil {
		t.Fatalf("ExcessDeaths: %s", err)
	}

	k := frame.Key{Date: dates.New(2021, 1, 1), Province: "Bangkok"}
	if v, _ := f.Value(k, "Deaths All Baseline"); v != 120 {
		t.Errorf("baseline = %v, want 120 (2015-2019 mean)", v)
	}
	if v, _ := f.Value(k, "Deaths Excess"); v != 80 {
		t.Errorf("excess = %v, want 80", v)
	}
	// Baseline-window rows are inputs, not outputs.
	if got := len(f.Dates()); got != 1 {
		t.Errorf("dates = %d, want 1", got)
	}
}

func TestParseDeathRowsConvertsBEYears(t *testing.T) {
	raw := []byte("year,month,province,deaths\n2564,1,กรุงเทพมหานคร,200\n2019,2,เชียงใหม่,50\nx,y,z,w\n")
	rows, err := ParseDeathRows(raw)
	if err != nil {
		t.Fatalf("ParseDeathRows: %s", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Year != 2021 || rows[0].Month != time.January {
		t.Errorf("row 0 = %d-%d, want 2021-1", rows[0].Year, rows[0].Month)
	}
	if rows[1].Year != 2019 {
		t.Errorf("row 1 year = %d, want 2019 kept as CE", rows[1].Year)
	}
}

func TestIHMEFiltersToThailand(t *testing.T) {
	raw := []byte(`date,location_name,inf_mean,seir_daily_unscaled
2021-06-01,Thailand,5123.4,4000
2021-06-01,Vietnam,999,999
2021-06-02,Thailand,5200.1,4100
`)
	f, err := IHME(context.Background(), raw)
	if err != nil {
		t.Fatalf("IHME: %s", err)
	}

	k := frame.DateKey(dates.New(2021, 6, 1))
	if v, _ := f.Value(k, "IHME inf_mean"); v != 5123.4 {
		t.Errorf("inf_mean = %v, want 5123.4", v)
	}
	if got := len(f.Dates()); got != 2 {
		t.Errorf("dates = %d, want 2 (Vietnam filtered out)", got)
	}
}
