package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thcovid/thcovid/internal/pkg/constants"
)

var englishMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "sept": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var englishDateRE = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]+)\.?\s+(\d{4})`)

// FindEnglishDate scans for a "14 February 2021" style date. Years at
// or past 2400 are Buddhist Era.
func FindEnglishDate(text string) (Date, error) {
	for _, m := range englishDateRE.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		month, ok := englishMonths[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		if day < 1 || day > 31 {
			continue
		}
		if year >= 2400 {
			year -= 543
		}
		return New(year, month, day), nil
	}
	return Date{}, constants.ErrDateUnresolved
}
