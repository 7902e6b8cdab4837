package stats

import (
	"errors"
	"sort"
)

// ErrEmptySample is returned by Median when called with no values.
var ErrEmptySample = errors.New("stats: empty sample")

// Median returns the median of xs.
//
// For an even number of values it is the mean of the two central values
// after sorting; for an odd number it is the central value.
func Median(xs []float64) (float64, error) {
	n := len(xs)
	if n == 0 {
		return 0, ErrEmptySample
	}
	s := sorted(xs)
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2, nil
	}
	return s[n/2], nil
}

// IQRLowerBound returns the lower outlier bound of xs using the
// interquartile range:
//
//	Q1 = median(lower half)   // first ⌊n/2⌋ sorted values
//	Q3 = median(upper half)   // remaining values
//	bound = Q1 - window*(Q3 - Q1)
//
// For odd n the midpoint value lands in the upper half.
// Samples with fewer than three values return 0 (empty), the single value,
// or the smaller of the two values respectively.
func IQRLowerBound(xs []float64, window float64) float64 {
	n := len(xs)
	switch n {
	case 0:
		return 0
	case 1:
		return xs[0]
	case 2:
		return min(xs[0], xs[1])
	}

	s := sorted(xs)
	// Both halves are non-empty for n >= 3, so Median cannot fail here.
	q1, _ := Median(s[:n/2])
	q3, _ := Median(s[n/2:])
	return q1 - window*(q3-q1)
}

// sorted returns an ascending copy of xs.
func sorted(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}
