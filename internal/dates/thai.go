package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/fuzzy"
)

// monthCutoff is the fuzzy-match threshold for month spellings. OCR of
// the briefings frequently turns า into ำ.
const monthCutoff = 0.60

var thaiMonths = []string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

var thaiMonthAbbrs = []string{
	"ม.ค.", "ก.พ.", "มี.ค.", "เม.ย.", "พ.ค.", "มิ.ย.",
	"ก.ค.", "ส.ค.", "ก.ย.", "ต.ค.", "พ.ย.", "ธ.ค.",
}

var thaiDateRE = regexp.MustCompile(`(\d{1,2})\s*([\p{Thai}.]+)\s*(\d{2,4})`)

// beToCE converts a Buddhist-Era year to Common Era. Two-digit years
// are short BE (64 means 2564).
func beToCE(y int) int {
	if y >= 100 {
		return y - 543
	}
	return 2500 + y - 543
}

func resolveThaiMonth(s string) (time.Month, bool) {
	s = strings.TrimSpace(s)
	for i, m := range thaiMonths {
		if s == m {
			return time.Month(i + 1), true
		}
	}
	for i, m := range thaiMonthAbbrs {
		if s == m || s == strings.ReplaceAll(m, ".", "") {
			return time.Month(i + 1), true
		}
	}
	if best, ok := fuzzy.BestMatch(s, thaiMonths, monthCutoff); ok {
		for i, m := range thaiMonths {
			if m == best {
				return time.Month(i + 1), true
			}
		}
	}
	return 0, false
}

// FindThaiDate scans text for a "day month year" Thai date and returns
// the first one that resolves.
func FindThaiDate(text string) (Date, error) {
	d, _, err := FindThaiDateRemove(text)
	return d, err
}

// FindThaiDateRemove additionally returns the text with the matched
// date removed, for callers that parse the remainder.
func FindThaiDateRemove(text string) (Date, string, error) {
	for _, m := range thaiDateRE.FindAllStringSubmatchIndex(text, -1) {
		day, _ := strconv.Atoi(text[m[2]:m[3]])
		monthStr := text[m[4]:m[5]]
		year, _ := strconv.Atoi(text[m[6]:m[7]])

		month, ok := resolveThaiMonth(monthStr)
		if !ok {
			continue
		}
		if day < 1 || day > 31 {
			continue
		}

		remainder := text[:m[0]] + text[m[1]:]
		return New(beToCE(year), month, day), remainder, nil
	}
	return Date{}, text, constants.ErrDateUnresolved
}

var (
	numericRangeRE = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})\s*[-–]\s*(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	dayNumericRE   = regexp.MustCompile(`(\d{1,2})\s*[-–]\s*(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	dayThaiRangeRE = regexp.MustCompile(`(\d{1,2})\s*[-–]\s*(\d{1,2})\s*([\p{Thai}.]+)\s*(\d{2,4})`)
	thaiThaiRE     = regexp.MustCompile(`(\d{1,2})\s*([\p{Thai}.]+)?\s*[-–]\s*(\d{1,2})\s*([\p{Thai}.]+)\s*(\d{2,4})`)
)

func numericYear(y int) int {
	// Numeric fields mix BE and CE; anything at or past 2400 is BE.
	if y < 100 {
		return beToCE(y)
	}
	if y >= 2400 {
		return y - 543
	}
	return y
}

// FindDateRange extracts a start and end date from range spellings:
// "dd/mm/yyyy - dd/mm/yyyy", "dd - dd/mm/yyyy", "dd - dd <month> yyyy"
// and "dd <month> - dd <month> yyyy".
func FindDateRange(text string) (Date, Date, error) {
	if m := numericRangeRE.FindStringSubmatch(text); m != nil {
		d1, _ := strconv.Atoi(m[1])
		mo1, _ := strconv.Atoi(m[2])
		y1, _ := strconv.Atoi(m[3])
		d2, _ := strconv.Atoi(m[4])
		mo2, _ := strconv.Atoi(m[5])
		y2, _ := strconv.Atoi(m[6])
		return New(numericYear(y1), time.Month(mo1), d1),
			New(numericYear(y2), time.Month(mo2), d2), nil
	}
	if m := thaiThaiRE.FindStringSubmatch(text); m != nil {
		d1, _ := strconv.Atoi(m[1])
		d2, _ := strconv.Atoi(m[3])
		y, _ := strconv.Atoi(m[5])
		month2, ok := resolveThaiMonth(m[4])
		if ok {
			month1 := month2
			if m[2] != "" {
				if mo, ok := resolveThaiMonth(m[2]); ok {
					month1 = mo
				}
			}
			return New(beToCE(y), month1, d1), New(beToCE(y), month2, d2), nil
		}
	}
	if m := dayThaiRangeRE.FindStringSubmatch(text); m != nil {
		d1, _ := strconv.Atoi(m[1])
		d2, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[4])
		if month, ok := resolveThaiMonth(m[3]); ok {
			return New(beToCE(y), month, d1), New(beToCE(y), month, d2), nil
		}
	}
	if m := dayNumericRE.FindStringSubmatch(text); m != nil {
		d1, _ := strconv.Atoi(m[1])
		d2, _ := strconv.Atoi(m[2])
		mo, _ := strconv.Atoi(m[3])
		y, _ := strconv.Atoi(m[4])
		return New(numericYear(y), time.Month(mo), d1),
			New(numericYear(y), time.Month(mo), d2), nil
	}
	return Date{}, Date{}, constants.ErrDateUnresolved
}

// WeekEnd maps an ISO week of a CE year to its last day (Sunday).
func WeekEnd(year, week int) Date {
	// Jan 4 is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	monday := jan4.AddDate(0, 0, 1-wd)
	return FromTime(monday.AddDate(0, 0, (week-1)*7+6))
}

// WeekEndBE is WeekEnd for a Buddhist-Era year.
func WeekEndBE(year, week int) Date {
	return WeekEnd(year-543, week)
}

// ToSwitchingDate corrects a dd/mm reversal in known-bad upstream
// fields: when d lies after pivot but its day/month swap does not, the
// swapped reading is the real one.
func ToSwitchingDate(d Date, pivot Date) Date {
	if !d.After(pivot) {
		return d
	}
	if d.Day >= 1 && d.Day <= 12 {
		swapped := New(d.Year, time.Month(d.Day), int(d.Month))
		if !swapped.After(pivot) {
			return swapped
		}
	}
	return d
}
