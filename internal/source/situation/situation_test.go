package situation

import (
	"context"
	"testing"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
)

const sampleEN = `
Coronavirus Disease 2019 (COVID-19) Situation Report
Data as of 14 February 2021
Total number of laboratory tests 1,873,023 tests
Total number of people who meet the criteria of PUI 728,124 cases
Total number of confirmed cases 24,571 cases
Cases found in the community 22,103 cases
Imported cases 2,468 cases
`

func TestParseReportEN(t *testing.T) {
	d, row, err := parseReport(sampleEN, LangEN)
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2021-02-14" {
		t.Errorf("date = %s", d)
	}
	if row[domain.ColTestedCum] != 1873023 {
		t.Errorf("Tested Cum = %v", row[domain.ColTestedCum])
	}
	if row[domain.ColCasesCum] != 24571 {
		t.Errorf("Cases Cum = %v", row[domain.ColCasesCum])
	}
	if row["Cases Local Transmission Cum"] != 22103 {
		t.Errorf("local = %v", row["Cases Local Transmission Cum"])
	}
	if row["Cases Imported Cum"] != 2468 {
		t.Errorf("imported = %v", row["Cases Imported Cum"])
	}
}

func TestParseReportTH(t *testing.T) {
	text := `
รายงานสถานการณ์โรคติดเชื้อไวรัสโคโรนา 2019
ข้อมูล ณ วันที่ 14 กุมภาพันธ์ 2564
ผู้ป่วยยืนยันสะสม 24,571 ราย
เดินทางมาจากต่างประเทศ 2,468 ราย
`
	d, row, err := parseReport(text, LangTH)
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2021-02-14" {
		t.Errorf("date = %s", d)
	}
	if row[domain.ColCasesCum] != 24571 {
		t.Errorf("Cases Cum = %v", row[domain.ColCasesCum])
	}
}

func TestParseReportNoDate(t *testing.T) {
	if _, _, err := parseReport("no anchors here at all", LangEN); err == nil {
		t.Fatal("expected error for a report without a date")
	}
}

func TestApplyRowRejectsCumDecrease(t *testing.T) {
	ctx := context.Background()
	f := frame.New("situation_en", "Date")
	d1 := dates.New(2021, time.February, 13)
	d2 := dates.New(2021, time.February, 14)

	applyRow(ctx, f, d1, map[string]float64{domain.ColTestedCum: 1873023})
	applyRow(ctx, f, d2, map[string]float64{domain.ColTestedCum: 1000})

	if _, ok := f.Value(frame.DateKey(d2), domain.ColTestedCum); ok {
		t.Error("decreasing cumulative was accepted")
	}

	// a drop of exactly 1 is tolerated
	applyRow(ctx, f, d2, map[string]float64{domain.ColCasesCum: 100})
	d3 := dates.New(2021, time.February, 15)
	applyRow(ctx, f, d3, map[string]float64{domain.ColCasesCum: 99})
	if v, ok := f.Value(frame.DateKey(d3), domain.ColCasesCum); !ok || v != 99 {
		t.Error("within-tolerance value rejected")
	}
}

func TestApplyRowOCRCorrection(t *testing.T) {
	// 2021-02-14 Tested Cum is in the OCR override table.
	ctx := context.Background()
	f := frame.New("situation_en", "Date")
	d := dates.New(2021, time.February, 14)
	applyRow(ctx, f, d, map[string]float64{domain.ColTestedCum: 18730})

	if v, _ := f.Value(frame.DateKey(d), domain.ColTestedCum); v != 1873023 {
		t.Errorf("OCR override not applied: %v", v)
	}
}
