package scoring

import (
	"math"
	"strconv"
	"strings"
)

// Comparator decides whether a single-value answer matches its key.
type Comparator interface {
	Equal(given, key string) bool
}

// ExactComparator compares trimmed strings. "5" and "5.0" differ.
type ExactComparator struct{}

func (ExactComparator) Equal(given, key string) bool {
	return strings.TrimSpace(given) == strings.TrimSpace(key)
}

// ToleranceComparator accepts numeric answers within Epsilon of the key and
// falls back to exact comparison when either side does not parse.
type ToleranceComparator struct {
	Epsilon float64
}

func (c ToleranceComparator) Equal(given, key string) bool {
	g, errG := strconv.ParseFloat(strings.TrimSpace(given), 64)
	k, errK := strconv.ParseFloat(strings.TrimSpace(key), 64)
	if errG != nil || errK != nil {
		return ExactComparator{}.Equal(given, key)
	}
	return math.Abs(g-k) <= c.Epsilon
}

// ComparatorFor returns the numeric comparator for a configured tolerance.
// Zero or negative means exact string comparison.
func ComparatorFor(tolerance float64) Comparator {
	if tolerance > 0 {
		return ToleranceComparator{Epsilon: tolerance}
	}
	return ExactComparator{}
}
