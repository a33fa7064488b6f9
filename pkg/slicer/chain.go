package slicer

import (
	"math"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
)

type endRef struct {
	seg int
	end int // 0 = A, 1 = B
}

// endpointGrid buckets segment endpoints on an eps-sized grid so that
// matching an endpoint only inspects the 3x3 neighbouring cells.
type endpointGrid struct {
	cell    float64
	buckets map[[2]int64][]endRef
}

func newEndpointGrid(segs []models.Segment2, eps float64) *endpointGrid {
	g := &endpointGrid{cell: eps, buckets: make(map[[2]int64][]endRef, 2*len(segs))}
	for i, s := range segs {
		g.add(s.A, endRef{i, 0})
		g.add(s.B, endRef{i, 1})
	}
	return g
}

func (g *endpointGrid) key(p models.Vec2) [2]int64 {
	return [2]int64{int64(math.Floor(p.X / g.cell)), int64(math.Floor(p.Y / g.cell))}
}

func (g *endpointGrid) add(p models.Vec2, r endRef) {
	k := g.key(p)
	g.buckets[k] = append(g.buckets[k], r)
}

// nearest returns the closest unused endpoint within eps of p.
func (g *endpointGrid) nearest(p models.Vec2, segs []models.Segment2, used []bool, eps float64) (endRef, bool) {
	k := g.key(p)
	best := endRef{seg: -1}
	bestDist := math.Inf(1)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, r := range g.buckets[[2]int64{k[0] + dx, k[1] + dy}] {
				if used[r.seg] {
					continue
				}
				q := segs[r.seg].A
				if r.end == 1 {
					q = segs[r.seg].B
				}
				d := p.Dist(q)
				// lowest segment index wins ties so chaining is deterministic
				if d <= eps && (d < bestDist || (d == bestDist && r.seg < best.seg)) {
					best, bestDist = r, d
				}
			}
		}
	}
	return best, best.seg >= 0
}

// chain links undirected plane-cut segments into closed loops by matching
// endpoints within eps. Any loop that cannot be closed yields a
// DegenerateSliceError.
func chain(segs []models.Segment2, eps float64) ([]models.Polygon, error) {
	grid := newEndpointGrid(segs, eps)
	used := make([]bool, len(segs))
	var loops []models.Polygon
	open := 0

	for start := range segs {
		if used[start] {
			continue
		}
		used[start] = true
		first := segs[start].A
		loop := models.Polygon{first}
		cur := segs[start].B
		closed := false
		for steps := 0; steps <= len(segs); steps++ {
			if cur.Dist(first) <= eps && len(loop) >= 3 {
				closed = true
				break
			}
			next, ok := grid.nearest(cur, segs, used, eps)
			if !ok {
				if cur.Dist(first) <= eps {
					closed = true
				}
				break
			}
			used[next.seg] = true
			loop = append(loop, cur)
			if next.end == 0 {
				cur = segs[next.seg].B
			} else {
				cur = segs[next.seg].A
			}
		}
		if !closed {
			open++
			continue
		}
		loops = append(loops, loop)
	}
	if open > 0 {
		return nil, &fault.DegenerateSliceError{
			GeometryError: fault.GeometryError{Layer: -1, Reason: "edges do not close into polygons (non-manifold mesh?)"},
			OpenChains:    open,
			Tolerance:     eps,
		}
	}
	return loops, nil
}
