package child

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
)

// StuntingThreshold is the exclusive percentile bound below which the
// measurement-only rule classifies a child as stunted.
const StuntingThreshold = 25

// DefaultPercentile is used when a percentile cannot be read.
const DefaultPercentile = 50

var percentileRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*(?:st|nd|rd|th)?\s*$`)

// ParsePercentile reads "40th", "40" or "40.5" into a number.
func ParsePercentile(s string) (float64, bool) {
	m := percentileRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}

// PercentileOrDefault parses s, falling back to DefaultPercentile.
func PercentileOrDefault(s string) float64 {
	if v, ok := ParsePercentile(s); ok {
		return v
	}
	return DefaultPercentile
}

// FormatPercentile renders a percentile the way the intake flow stores it.
func FormatPercentile(p int) string {
	return fmt.Sprintf("%dth", p)
}

// IsStunted applies the measurement-only rule: percentile < 25.
func IsStunted(percentile string) bool {
	return PercentileOrDefault(percentile) < StuntingThreshold
}

// PercentileFunc assigns a percentile to a freshly submitted record.
type PercentileFunc func(Record) int

// RandomPercentile mirrors the intake flow, which assigns an arbitrary
// percentile instead of computing one from growth tables.
func RandomPercentile(Record) int {
	return rand.IntN(100)
}
