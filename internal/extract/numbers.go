// Package extract holds the regex-driven number extraction shared by
// the document parsers.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// numberRE matches numbers in the tolerant-comma format the reports
// use, including OCR artifacts like "1, 234" and "1,234,567". Decimal
// matches are skipped by CleanInt so Numbers never splits "1.5" in two.
var numberRE = regexp.MustCompile(`\d{1,3}(?:,\s?\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

var percentRE = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// CleanInt parses one tolerant-comma integer.
func CleanInt(s string) (int64, bool) {
	s = strings.NewReplacer(",", "", " ", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CleanFloat parses a decimal that may carry comma thousands separators.
func CleanFloat(s string) (float64, bool) {
	s = strings.NewReplacer(",", "", " ", "", " ", "", "%", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Numbers returns every integer found in text, in order.
func Numbers(text string) []int64 {
	var out []int64
	for _, m := range numberRE.FindAllString(text, -1) {
		if v, ok := CleanInt(m); ok {
			out = append(out, v)
		}
	}
	return out
}

// Percents returns every percentage value found in text.
func Percents(text string) []float64 {
	var out []float64
	for _, m := range percentRE.FindAllStringSubmatch(text, -1) {
		if v, ok := CleanFloat(m[1]); ok {
			out = append(out, v)
		}
	}
	return out
}

// AfterAnchor locates anchor in text and returns the next n integers
// following it. Reports false when the anchor is absent or fewer than
// n integers follow.
func AfterAnchor(text, anchor string, n int) ([]int64, bool) {
	idx := strings.Index(text, anchor)
	if idx < 0 {
		return nil, false
	}
	nums := Numbers(text[idx+len(anchor):])
	if len(nums) < n {
		return nil, false
	}
	return nums[:n], true
}

// AnyAnchor tries anchors in order, returning the first that yields n
// integers. Reports use both Thai and English phrasings.
func AnyAnchor(text string, anchors []string, n int) ([]int64, bool) {
	for _, a := range anchors {
		if nums, ok := AfterAnchor(text, a, n); ok {
			return nums, true
		}
	}
	return nil, false
}

// Lines splits text into trimmed non-empty lines.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}
