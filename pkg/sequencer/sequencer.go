// Package sequencer orders scan segments into an executable toolpath and
// stamps each segment with its power and speed.
package sequencer

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/toolpath"
)

// WriteOrder requires every segment of region Before to be written ahead of
// every segment of region After, across layers. The default region is
// named "".
type WriteOrder struct {
	Before string `yaml:"before" json:"before"`
	After  string `yaml:"after" json:"after"`
}

// Options carries the machine limits the sequencer enforces
type Options struct {
	// MaxPower rejects any stamped power above it; zero disables the check
	MaxPower float64

	// TravelSpeed is used for repositioning moves
	TravelSpeed float64

	Logger *zap.Logger
}

// Sequence stamps and orders the per-layer segments. Layers are written in
// ascending height unless a WriteOrder pulls a region ahead. Within a group
// chains are visited nearest-neighbour first. The input is never modified.
func Sequence(layers [][]models.ScanSegment, params models.ParameterSet, constraints []WriteOrder, opts Options) (*toolpath.Toolpath, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	stamped := make([][]models.ScanSegment, len(layers))
	for i, layer := range layers {
		out := make([]models.ScanSegment, len(layer))
		for j, s := range layer {
			st, err := stamp(s, params, opts.MaxPower)
			if err != nil {
				return nil, err
			}
			out[j] = st
		}
		stamped[i] = out
	}

	ordered := map[string]bool{}
	for _, c := range constraints {
		ordered[c.Before] = true
		ordered[c.After] = true
	}

	groups := buildGroups(stamped, ordered)
	order, err := orderGroups(groups, constraints, opts.Logger)
	if err != nil {
		return nil, err
	}

	tp := toolpath.New(opts.TravelSpeed)
	var pos *models.Vec3
	for _, gi := range order {
		for _, u := range nearestNeighbour(groups[gi].units, pos) {
			for _, s := range u {
				tp.Append(s)
			}
			end := u[len(u)-1].End.At(u[len(u)-1].Z)
			pos = &end
		}
	}
	opts.Logger.Debug("sequenced toolpath",
		zap.Int("groups", len(groups)), zap.Int("moves", tp.Len()), zap.Float64("length", tp.Length()))
	return tp, nil
}

// stamp resolves power and speed per field: region override, then the
// first-layer override, then the global default.
func stamp(s models.ScanSegment, params models.ParameterSet, maxPower float64) (models.ScanSegment, error) {
	s.Power, s.Speed = params.Power, params.Speed
	s.Region = ""
	if params.FirstLayer != nil && s.Layer == 0 {
		if params.FirstLayer.Power > 0 {
			s.Power = params.FirstLayer.Power
		}
		if params.FirstLayer.Speed > 0 {
			s.Speed = params.FirstLayer.Speed
		}
	}
	if r := regionFor(s, params.Regions); r != nil {
		s.Region = r.Name
		if r.Override.Power > 0 {
			s.Power = r.Override.Power
		}
		if r.Override.Speed > 0 {
			s.Speed = r.Override.Speed
		}
	}
	if maxPower > 0 && s.Power > maxPower {
		return s, &fault.ConstraintViolationError{Parameter: "power", Value: s.Power, Limit: maxPower, Layer: s.Layer}
	}
	if s.Speed <= 0 {
		return s, fmt.Errorf("layer %d: scan speed must be positive, got %g", s.Layer, s.Speed)
	}
	return s, nil
}

// regionFor returns the override covering the segment midpoint. Among
// overlapping regions the smallest wins; equal areas keep declaration
// order.
func regionFor(s models.ScanSegment, regions []models.RegionOverride) *models.RegionOverride {
	mid := s.Start.Lerp(s.End, 0.5)
	var best *models.RegionOverride
	bestArea := math.Inf(1)
	for i := range regions {
		r := &regions[i]
		if !r.AppliesAt(mid, s.Z) {
			continue
		}
		if a := r.Polygon.Area(); a < bestArea {
			best, bestArea = r, a
		}
	}
	return best
}

// unit is a run of segments written back to back
type unit []models.ScanSegment

func (u unit) reversible() bool {
	for _, s := range u {
		if s.Fixed {
			return false
		}
	}
	if len(u) > 1 && u[0].Start == u[len(u)-1].End {
		return false
	}
	return true
}

func (u unit) reversed() unit {
	out := make(unit, len(u))
	for i, s := range u {
		out[len(u)-1-i] = s.Reversed()
	}
	return out
}

type group struct {
	z      float64
	region string
	first  int // position of the first segment in the input, for tie breaks
	units  []unit
}

// buildGroups buckets segments by layer and, for regions named in a write
// order constraint, by region. Chains become units in first-appearance
// order.
func buildGroups(layers [][]models.ScanSegment, ordered map[string]bool) []group {
	var groups []group
	seq := 0
	for _, layer := range layers {
		index := map[string]int{}
		for _, s := range layer {
			key := ""
			if ordered[s.Region] {
				key = s.Region
			}
			gi, ok := index[key]
			if !ok {
				gi = len(groups)
				index[key] = gi
				groups = append(groups, group{z: s.Z, region: key, first: seq})
			}
			g := &groups[gi]
			seq++
			if s.Chain > 0 {
				if n := len(g.units); n > 0 && g.units[n-1][0].Chain == s.Chain {
					g.units[n-1] = append(g.units[n-1], s)
					continue
				}
			}
			g.units = append(g.units, unit{s})
		}
	}
	return groups
}

// orderGroups topologically sorts the groups under the write order
// constraints, always taking the lowest, earliest ready group next.
func orderGroups(groups []group, constraints []WriteOrder, log *zap.Logger) ([]int, error) {
	byRegion := map[string][]int{}
	for i, g := range groups {
		byRegion[g.region] = append(byRegion[g.region], i)
	}
	succ := make([][]int, len(groups))
	indeg := make([]int, len(groups))
	for _, c := range constraints {
		before, after := byRegion[c.Before], byRegion[c.After]
		if len(before) == 0 || len(after) == 0 {
			log.Warn("write order constraint names a region with no segments",
				zap.String("before", c.Before), zap.String("after", c.After))
			continue
		}
		if c.Before == c.After {
			return nil, fmt.Errorf("write order constraint orders region %q before itself", c.Before)
		}
		for _, b := range before {
			for _, a := range after {
				succ[b] = append(succ[b], a)
				indeg[a]++
			}
		}
	}

	less := func(i, j int) bool {
		if groups[i].z != groups[j].z {
			return groups[i].z < groups[j].z
		}
		return groups[i].first < groups[j].first
	}
	var ready []int
	for i := range groups {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, len(groups))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool { return less(ready[a], ready[b]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, s := range succ[next] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) != len(groups) {
		return nil, fmt.Errorf("write order constraints form a cycle")
	}
	return order, nil
}

// nearestNeighbour orders units greedily by distance from pos, entering a
// reversible unit from whichever end is closer. Ties go to the earlier unit
// and to the forward direction.
func nearestNeighbour(units []unit, pos *models.Vec3) []unit {
	out := make([]unit, 0, len(units))
	used := make([]bool, len(units))
	for len(out) < len(units) {
		best, rev := -1, false
		bestDist := math.Inf(1)
		for i, u := range units {
			if used[i] {
				continue
			}
			if pos == nil {
				best = i
				break
			}
			start := u[0].Start.At(u[0].Z)
			if d := pos.Dist(start); d < bestDist {
				best, rev, bestDist = i, false, d
			}
			if u.reversible() {
				last := u[len(u)-1]
				if d := pos.Dist(last.End.At(last.Z)); d < bestDist {
					best, rev, bestDist = i, true, d
				}
			}
		}
		used[best] = true
		u := units[best]
		if rev {
			u = u.reversed()
		}
		out = append(out, u)
		last := u[len(u)-1]
		end := last.End.At(last.Z)
		pos = &end
	}
	return out
}
