package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// maxSweepValues bounds generated sweeps
const maxSweepValues = 10000

// RangeSpec is a "min:max:step" sweep over one parameter.
type RangeSpec struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// ParseRangeSpec parses "min:max:step".
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	var vals [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", vals[2])
	}
	if vals[0] > vals[1] {
		return RangeSpec{}, fmt.Errorf("min %g is above max %g", vals[0], vals[1])
	}
	return RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

func (r RangeSpec) String() string {
	return fmt.Sprintf("%g:%g:%g", r.Min, r.Max, r.Step)
}

// Values expands the range in ascending order.
func (r RangeSpec) Values() []float64 {
	return GenerateRange(r.Min, r.Max, r.Step)
}

// GenerateRange returns min, min+step, … up to max inclusive, rounded to
// 1e-6 to keep accumulated error out of the values. It returns nil for an
// empty or oversized range.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}
	count := int(math.Floor((max-min)/step+1e-9)) + 1
	if count > maxSweepValues || count < 0 {
		return nil
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, math.Round((min+float64(i)*step)*1e6)/1e6)
	}
	return out
}

// descending returns a sorted copy, largest first.
func descending(vs []float64) []float64 {
	out := append([]float64(nil), vs...)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// ascending returns a sorted copy, smallest first.
func ascending(vs []float64) []float64 {
	out := append([]float64(nil), vs...)
	sort.Float64s(out)
	return out
}
