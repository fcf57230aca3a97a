// Package fuzzy is a bounded-similarity lookup against small finite
// dictionaries (province names, Thai month spellings).
package fuzzy

import (
	"github.com/agnivade/levenshtein"
)

// Ratio is a similarity in [0,1] based on edit distance over the longer
// rune length. 1 means equal strings.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// BestMatch returns the candidate most similar to q, provided the
// similarity reaches cutoff. Ties keep the earliest candidate.
func BestMatch(q string, candidates []string, cutoff float64) (string, bool) {
	best := ""
	bestRatio := 0.0
	for _, c := range candidates {
		r := Ratio(q, c)
		if r > bestRatio {
			best, bestRatio = c, r
		}
	}
	if bestRatio < cutoff {
		return "", false
	}
	return best, true
}
