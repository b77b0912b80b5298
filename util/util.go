// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// CSVToFloats parses "1,2.5,3" into []float64{1, 2.5, 3}.  Whitespace around
// the fields is ignored.
func CSVToFloats(s string) ([]float64, error) {
	pieces := strings.Split(s, ",")
	out := make([]float64, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal point
func AllElementsNumbers(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// Clamp restricts input to the closed interval [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// Limiter holds a min and max value
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if min <= input <= max
func (l Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}

// Clamp restricts input to the limiter's range
func (l Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Linspace returns n evenly spaced values over [start, stop], inclusive of both
// ends.  n == 1 returns []float64{start}.  n < 1 returns an empty slice.
func Linspace(start, stop float64, n int) []float64 {
	if n < 1 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	// the last element is set exactly to avoid float accumulation error
	out[n-1] = stop
	return out
}

// Product returns the product of the elements of is.  The product of an empty
// slice is 1.
func Product(is []int) int {
	p := 1
	for _, v := range is {
		p *= v
	}
	return p
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
