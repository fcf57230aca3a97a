package provinces

import (
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
)

// ColHealthDistrict is the column Join attaches to province frames.
const ColHealthDistrict = "Health District Number"

// Join canonicalizes the province keys of f and attaches the Health
// District Number. Unresolvable keys collapse into Unknown and land in
// the resolver's audit table; when two raw keys map to the same
// canonical province the first row's cells win.
func Join(f *frame.Frame, r *Resolver, source string) *frame.Frame {
	out := frame.New(f.Name(), "Date", "Province")
	for _, k := range f.Keys() {
		name := k.Province
		if name != domain.Unknown && name != domain.Prison {
			resolved, _ := r.GetOpts(name, GetOpts{Split: true, IgnoreError: true, Source: source})
			if resolved == "" {
				name = domain.Unknown
			} else {
				name = resolved
			}
		}

		nk := frame.Key{Date: k.Date, Province: name}
		for col, v := range f.Row(k) {
			if _, ok := out.Value(nk, col); !ok {
				out.Set(nk, col, v)
			}
		}
		if p, ok := Lookup(name); ok && p.HealthDistrict > 0 {
			out.Set(nk, ColHealthDistrict, float64(p.HealthDistrict))
		}
	}
	return out
}

// ByArea aggregates a canonical province frame into per-health-district
// sums. Prison rows go to the Prison pseudo-area; Unknown rows carry no
// district and are left out.
func ByArea(f *frame.Frame, cols ...string) *frame.Frame {
	out := frame.New("cases_by_area", "Date")
	for _, k := range f.Keys() {
		var outCol func(string) string
		if k.Province == domain.Prison {
			outCol = prisonColumn
		} else {
			p, ok := Lookup(k.Province)
			if !ok || p.HealthDistrict < 1 {
				continue
			}
			district := p.HealthDistrict
			outCol = func(col string) string { return areaColumn(col, district) }
		}
		row := f.Row(k)
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				continue
			}
			prev, _ := out.Value(frame.DateKey(k.Date), outCol(col))
			out.Set(frame.DateKey(k.Date), outCol(col), prev+v)
		}
	}
	return out
}

func areaColumn(col string, district int) string {
	switch col {
	case domain.ColCases:
		return domain.CasesArea(district)
	case domain.ColDeaths:
		return domain.DeathsArea(district)
	}
	return col
}

func prisonColumn(col string) string {
	switch col {
	case domain.ColCases:
		return domain.ColCasesAreaPrison
	case domain.ColDeaths:
		return domain.ColDeathsAreaPrison
	}
	return col
}
