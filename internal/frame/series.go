package frame

import (
	"math"

	"github.com/thcovid/thcovid/internal/dates"
)

// CumToDaily derives a daily column from a cumulative one. Gaps in the
// cumulative series are interpolated only to compute differences; the
// interpolated cumulatives themselves are never stored.
func (f *Frame) CumToDaily(cumCol, dailyCol string) {
	for _, province := range f.seriesProvinces() {
		f.cumToDailySeries(province, cumCol, dailyCol)
	}
}

func (f *Frame) seriesProvinces() []string {
	if !f.hasProvince {
		return []string{""}
	}
	return f.Provinces()
}

func (f *Frame) cumToDailySeries(province, cumCol, dailyCol string) {
	type point struct {
		date dates.Date
		val  float64
	}
	var pts []point
	for _, k := range f.Keys() {
		if k.Province != province {
			continue
		}
		if v, ok := f.Value(k, cumCol); ok {
			pts = append(pts, point{k.Date, v})
		}
	}
	if len(pts) < 2 {
		return
	}

	for i := 1; i < len(pts); i++ {
		gap := pts[i].date.DaysSince(pts[i-1].date)
		if gap == 1 {
			f.Set(Key{pts[i].date, province}, dailyCol, pts[i].val-pts[i-1].val)
			continue
		}
		// Spread the increase linearly across the gap.
		step := (pts[i].val - pts[i-1].val) / float64(gap)
		prev := pts[i-1].val
		for d := pts[i-1].date.AddDays(1); !d.After(pts[i].date); d = d.AddDays(1) {
			var cur float64
			if d == pts[i].date {
				cur = pts[i].val
			} else {
				cur = prev + step
			}
			f.Set(Key{d, province}, dailyCol, math.Round((cur-prev)*1e6)/1e6)
			prev = cur
		}
	}
}

// DailyToCum derives a cumulative column from a daily one, starting at
// the first observed day.
func (f *Frame) DailyToCum(dailyCol, cumCol string) {
	for _, province := range f.seriesProvinces() {
		total := 0.0
		for _, k := range f.Keys() {
			if k.Province != province {
				continue
			}
			if v, ok := f.Value(k, dailyCol); ok {
				total += v
				f.Set(k, cumCol, total)
			}
		}
	}
}

// SanitizeCum drops cumulative cells that fall below an earlier value
// in the same series. Returns the dropped keys.
func (f *Frame) SanitizeCum(cumCol string, tolerance float64) []Key {
	var dropped []Key
	for _, province := range f.seriesProvinces() {
		max := math.Inf(-1)
		for _, k := range f.Keys() {
			if k.Province != province {
				continue
			}
			v, ok := f.Value(k, cumCol)
			if !ok {
				continue
			}
			if v < max-tolerance {
				f.Drop(k, cumCol)
				dropped = append(dropped, k)
				continue
			}
			if v > max {
				max = v
			}
		}
	}
	return dropped
}
