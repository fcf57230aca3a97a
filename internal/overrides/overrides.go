// Package overrides is the declarative allowlist of known upstream
// data errors. Adding a new exception means editing data/overrides.json,
// never parser logic.
package overrides

import (
	"embed"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/thcovid/thcovid/internal/dates"
)

//go:embed data/overrides.json
var dataFS embed.FS

type fileFormat struct {
	// SituationOCR maps date -> column -> corrected value, for OCR
	// corruptions in the situation report PDFs.
	SituationOCR map[string]map[string]float64 `json:"situation_ocr"`
	// CaseTypeMismatch lists dates where the case-type checksum is
	// known not to add up and is accepted anyway.
	CaseTypeMismatch []string `json:"case_type_mismatch"`
	// VacGroupMismatch lists dates where group sums diverge from dose
	// totals beyond tolerance.
	VacGroupMismatch []string `json:"vac_group_mismatch"`
	// VacLayoutChange lists dates whose vaccination report layout
	// breaks the manufacturer total cross-check.
	VacLayoutChange []string `json:"vac_layout_change"`
}

var (
	once   sync.Once
	parsed fileFormat
	ocr    map[dates.Date]map[string]float64
	caseOK map[dates.Date]bool
	vacOK  map[dates.Date]bool
	layout map[dates.Date]bool
)

func load() {
	once.Do(func() {
		raw, err := dataFS.ReadFile("data/overrides.json")
		if err != nil {
			panic(fmt.Sprintf("overrides: %s", err))
		}
		if err := sonic.Unmarshal(raw, &parsed); err != nil {
			panic(fmt.Sprintf("overrides: %s", err))
		}

		ocr = make(map[dates.Date]map[string]float64)
		for ds, cols := range parsed.SituationOCR {
			d, err := dates.Parse(ds)
			if err != nil {
				panic(fmt.Sprintf("overrides: bad date %q", ds))
			}
			ocr[d] = cols
		}
		caseOK = dateSet(parsed.CaseTypeMismatch)
		vacOK = dateSet(parsed.VacGroupMismatch)
		layout = dateSet(parsed.VacLayoutChange)
	})
}

func dateSet(ds []string) map[dates.Date]bool {
	out := make(map[dates.Date]bool, len(ds))
	for _, s := range ds {
		d, err := dates.Parse(s)
		if err != nil {
			panic(fmt.Sprintf("overrides: bad date %q", s))
		}
		out[d] = true
	}
	return out
}

// SituationOCR returns the corrected value for (date, column), if any.
func SituationOCR(d dates.Date, col string) (float64, bool) {
	load()
	row, ok := ocr[d]
	if !ok {
		return 0, false
	}
	v, ok := row[col]
	return v, ok
}

// CaseTypeMismatchAllowed reports whether the case-type checksum is
// waived for d.
func CaseTypeMismatchAllowed(d dates.Date) bool {
	load()
	return caseOK[d]
}

// VacGroupMismatchAllowed reports whether the group-sum check is
// waived for d.
func VacGroupMismatchAllowed(d dates.Date) bool {
	load()
	return vacOK[d]
}

// VacLayoutChanged reports whether the manufacturer total cross-check
// is bypassed for d.
func VacLayoutChanged(d dates.Date) bool {
	load()
	return layout[d]
}
