package briefing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/provinces"
)

func TestParseCaseTypes(t *testing.T) {
	text := strings.Join([]string{
		"ผู้ติดเชื้อรายใหม่ รวม 50 ราย",
		"ผู้ป่วยรายใหม่จากระบบเฝ้าระวัง 30 ราย",
		"ค้นหาผู้ติดเชื้อเชิงรุกในชุมชน 10 ราย",
		"เรือนจำ/ที่ต้องขัง 5 ราย",
		"ผู้เดินทางมาจากต่างประเทศ 5 ราย",
	}, "\n")

	row, err := parseCaseTypes(text, dates.New(2021, time.May, 10))
	if err != nil {
		t.Fatal(err)
	}
	if row[domain.ColCases] != 50 || row[domain.ColCasesWalkin] != 30 ||
		row[domain.ColCasesProactive] != 10 || row[domain.ColCasesImported] != 5 ||
		row[domain.ColCasesAreaPrison] != 5 {
		t.Errorf("row = %v", row)
	}
}

func TestParseCaseTypesChecksumFails(t *testing.T) {
	text := strings.Join([]string{
		"ผู้ติดเชื้อรายใหม่ รวม 60 ราย",
		"ผู้ป่วยรายใหม่จากระบบเฝ้าระวัง 30 ราย",
		"ค้นหาผู้ติดเชื้อเชิงรุกในชุมชน 10 ราย",
		"เรือนจำ/ที่ต้องขัง 5 ราย",
		"ผู้เดินทางมาจากต่างประเทศ 5 ราย",
	}, "\n")

	// not an allowlisted date: reject
	if _, err := parseCaseTypes(text, dates.New(2021, time.May, 10)); err == nil {
		t.Fatal("checksum violation accepted")
	}

	// allowlisted date: accept
	if _, err := parseCaseTypes(text, dates.New(2021, time.May, 13)); err != nil {
		t.Fatalf("allowlisted date rejected: %v", err)
	}
}

func TestParseProvinceCases(t *testing.T) {
	p := NewParser(nil, nil, provinces.NewResolver())
	d := dates.New(2021, time.May, 10)
	res := &Result{
		Briefings: frame.New("cases_briefings", "Date"),
		Provinces: frame.New("briefings_prov", "Date", "Province"),
		Deaths:    frame.New("deaths_prov", "Date", "Province"),
	}
	res.Briefings.Set(frame.DateKey(d), domain.ColCases, 100)

	text := strings.Join([]string{
		"จำนวนผู้ติดเชื้อโควิดในประเทศรายใหม่",
		"กรุงเทพมหานคร 60 (20) ราย",
		"เชียงใหม่ 25 ราย",
		"ภูเก็ต 10 ราย",
	}, "\n")

	if err := p.parseProvinceCases(context.Background(), text, d, res); err != nil {
		t.Fatal(err)
	}

	k := frame.ProvinceKey(d, "Bangkok")
	if v, _ := res.Provinces.Value(k, domain.ColCases); v != 60 {
		t.Errorf("Bangkok cases = %v", v)
	}
	if v, _ := res.Provinces.Value(k, domain.ColCasesProactive); v != 20 {
		t.Errorf("Bangkok proactive = %v", v)
	}
	if v, _ := res.Provinces.Value(k, domain.ColCasesWalkin); v != 40 {
		t.Errorf("Bangkok walkin = %v", v)
	}
	if v, _ := res.Provinces.Value(frame.ProvinceKey(d, "Chiang Mai"), domain.ColCases); v != 25 {
		t.Errorf("Chiang Mai cases = %v", v)
	}
}

func TestParseProvinceCasesPoorCoverage(t *testing.T) {
	p := NewParser(nil, nil, provinces.NewResolver())
	d := dates.New(2021, time.May, 10)
	res := &Result{
		Briefings: frame.New("cases_briefings", "Date"),
		Provinces: frame.New("briefings_prov", "Date", "Province"),
		Deaths:    frame.New("deaths_prov", "Date", "Province"),
	}
	res.Briefings.Set(frame.DateKey(d), domain.ColCases, 1000)

	text := "จำนวนผู้ติดเชื้อโควิดในประเทศรายใหม่\nเชียงใหม่ 25 ราย\n"
	if err := p.parseProvinceCases(context.Background(), text, d, res); err == nil {
		t.Fatal("coverage below 0.77 accepted")
	}
}

func TestParseDeaths(t *testing.T) {
	p := NewParser(nil, nil, provinces.NewResolver())
	text := strings.Join([]string{
		"ผู้เสียชีวิต 15 ราย",
		"ชาย 9 ราย หญิง 6 ราย",
		"อายุ 67 ปี (34 - 92 ปี)",
		"ความดันโลหิตสูง 8 ราย เบาหวาน 6 ราย",
		"กรุงเทพมหานคร 10 ราย สมุทรปราการ 3 ราย เชียงใหม่ 2 ราย",
	}, "\n")

	row, provDeaths, err := p.parseDeaths(context.Background(), text, dates.New(2021, time.May, 10))
	if err != nil {
		t.Fatal(err)
	}
	if row[domain.ColDeaths] != 15 {
		t.Errorf("deaths = %v", row[domain.ColDeaths])
	}
	if row[domain.ColDeathsMale] != 9 || row[domain.ColDeathsFemale] != 6 {
		t.Errorf("gender = %v / %v", row[domain.ColDeathsMale], row[domain.ColDeathsFemale])
	}
	if row[domain.ColDeathsAgeMedian] != 67 || row[domain.ColDeathsAgeMin] != 34 || row[domain.ColDeathsAgeMax] != 92 {
		t.Errorf("ages = %v", row)
	}
	if row[domain.DeathsComorbidity("Hypertension")] != 8 {
		t.Errorf("hypertension = %v", row[domain.DeathsComorbidity("Hypertension")])
	}
	if provDeaths["Bangkok"] != 10 || provDeaths["Samut Prakan"] != 3 || provDeaths["Chiang Mai"] != 2 {
		t.Errorf("provDeaths = %v", provDeaths)
	}
}

func TestParseVacTotals(t *testing.T) {
	text := "ผู้ได้รับวัคซีน เข็มที่ 1 จำนวน 35,000 ราย และเข็มที่ 2 จำนวน 12,500 ราย"
	row := parseVacTotals(text)
	if row["Vac Given 1"] != 35000 || row["Vac Given 2"] != 12500 {
		t.Errorf("row = %v", row)
	}
}

func TestParseDocPublishesVacTotalsSeparately(t *testing.T) {
	p := NewParser(nil, nil, provinces.NewResolver())
	res := &Result{
		Briefings: frame.New("cases_briefings", "Date"),
		Provinces: frame.New("briefings_prov", "Date", "Province"),
		Deaths:    frame.New("deaths_prov", "Date", "Province"),
		Vac:       frame.New("briefings_vac", "Date"),
	}
	text := "แถลงข่าววันที่ 1 กรกฎาคม 2564\nผู้ได้รับวัคซีน เข็มที่ 1 จำนวน 35,000 ราย"
	if err := p.parseDoc(context.Background(), text, res); err != nil {
		t.Fatal(err)
	}

	k := frame.DateKey(dates.New(2021, time.July, 1))
	if v, _ := res.Vac.Value(k, "Vac Given 1"); v != 35000 {
		t.Errorf("vac frame dose 1 = %v, want 35000", v)
	}
	// Dose totals belong to the vaccination chain, not the case table.
	if _, ok := res.Briefings.Value(k, "Vac Given 1"); ok {
		t.Error("dose total leaked into the briefing case frame")
	}
}
