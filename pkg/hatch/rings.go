package hatch

import (
	"math"

	"tplpath/internal/models"
	"tplpath/pkg/polygon"
)

type ring struct {
	poly   models.Polygon
	depth  int
	branch int
}

// maxRings bounds offsetting for one boundary; no region fits more rings
// than its bounding box diagonal over the spacing.
func (f *filler) maxRings(p models.Polygon) int {
	lo, hi := p.Bounds()
	return int(hi.Sub(lo).Len()/f.d) + 2
}

// offsetRings expands seeds breadth-first into successive offset rings,
// d/2 from the seed and d apart after that. When an offset splits into
// several loops each continues on its own branch; a seed's first branch is
// its index. A lineage stops when the offset vanishes or keep rejects it.
func (f *filler) offsetRings(seeds []models.Polygon, limit int, keep func(p models.Polygon, branch int) bool) {
	queue := make([]ring, 0, len(seeds))
	for i, s := range seeds {
		queue = append(queue, ring{poly: s, branch: i})
	}
	branches := len(seeds)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		dist := f.d
		if r.depth == 0 {
			dist = f.d / 2
		}
		loops := polygon.Offset(r.poly, dist)
		for _, off := range loops {
			branch := r.branch
			if len(loops) > 1 {
				branch = branches
				branches++
			}
			if !keep(off, branch) {
				continue
			}
			if r.depth+1 < limit {
				queue = append(queue, ring{poly: off, depth: r.depth + 1, branch: branch})
			}
		}
	}
}

// concentric writes offset rings of the outer boundary shrinking inward and
// of every hole growing outward, each clipped to the region.
func (f *filler) concentric(region models.Region) {
	contours := region.Contours()
	seeds := append([]models.Polygon{region.Outer}, region.Holes...)
	f.offsetRings(seeds, f.maxRings(region.Outer), func(p models.Polygon, _ int) bool {
		closed := append(p.Clone(), p[0])
		return f.path(closed, contours)
	})
}

// spiral joins the inward rings of the outer boundary into one path by
// bridging from the end of each ring to the nearest vertex of the next.
// Where the rings split, each part gets a spiral of its own. Holes get
// concentric rings of their own.
func (f *filler) spiral(region models.Region) {
	contours := region.Contours()
	var order []int
	rings := make(map[int][]models.Polygon)
	f.offsetRings([]models.Polygon{region.Outer}, f.maxRings(region.Outer), func(p models.Polygon, branch int) bool {
		if _, ok := rings[branch]; !ok {
			order = append(order, branch)
		}
		rings[branch] = append(rings[branch], p)
		return true
	})

	for _, b := range order {
		var path []models.Vec2
		for _, r := range rings[b] {
			start := 0
			if n := len(path); n > 0 {
				best := math.Inf(1)
				for i, v := range r {
					if d := v.Dist(path[n-1]); d < best {
						best, start = d, i
					}
				}
			}
			for i := 0; i <= len(r); i++ {
				path = append(path, r[(start+i)%len(r)])
			}
		}
		if len(path) > 1 {
			f.path(path, contours)
		}
	}

	if len(region.Holes) > 0 {
		f.offsetRings(region.Holes, f.maxRings(region.Outer), func(p models.Polygon, _ int) bool {
			closed := append(p.Clone(), p[0])
			return f.path(closed, contours)
		})
	}
}

// path clips the polyline pts against contours and emits the surviving
// pieces. Contiguous pieces share a chain; a gap starts a new one. It
// reports whether anything was written.
func (f *filler) path(pts []models.Vec2, contours []models.Contour) bool {
	wrote := false
	chain := 0
	var last models.Vec2
	for i := 0; i+1 < len(pts); i++ {
		for _, p := range polygon.ClipSegment(contours, pts[i], pts[i+1], f.opts.MinSegment) {
			if chain == 0 || p[0].Dist(last) > 1e-12 {
				chain = f.nextChain()
			}
			f.emit(p[0], p[1], chain, false)
			last = p[1]
			wrote = true
		}
	}
	return wrote
}
