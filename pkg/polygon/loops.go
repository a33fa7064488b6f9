package polygon

import (
	"math"
	"sort"

	"tplpath/internal/models"
)

// Resolve cuts the closed polyline p into the simple loops bounding the
// region p winds around with the sign of orient: counter-clockwise loops
// around positive winding when orient > 0, clockwise loops around negative
// winding otherwise. Crossing edges, vertices touching an edge and
// overlapping edges are all split apart; loops that meet at a single point
// come back separately.
func Resolve(p models.Polygon, orient float64) []models.Polygon {
	if len(p) < 3 {
		return nil
	}
	if orient < 0 {
		loops := Resolve(p.Reversed(), 1)
		for i := range loops {
			loops[i] = loops[i].Reversed()
		}
		return loops
	}

	lo, hi := p.Bounds()
	eps := 1e-9 * math.Max(1, hi.Sub(lo).Len())

	n := len(p)
	cuts := make([][]float64, n)
	for i := range cuts {
		cuts[i] = []float64{0, 1}
	}
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		for j := i + 1; j < n; j++ {
			c, d := p[j], p[(j+1)%n]
			if !boxesTouch(a, b, c, d, eps) {
				continue
			}
			for _, x := range contacts(a, b, c, d, eps) {
				cuts[i] = append(cuts[i], x[0])
				cuts[j] = append(cuts[j], x[1])
			}
		}
	}

	var pts []models.Vec2
	vertex := func(v models.Vec2) int {
		for i, q := range pts {
			if q.Dist(v) <= 10*eps {
				return i
			}
		}
		pts = append(pts, v)
		return len(pts) - 1
	}

	type edge struct{ from, to int }
	seen := make(map[edge]bool)
	var edges []edge
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		ts := cuts[i]
		sort.Float64s(ts)
		prev := vertex(a)
		for _, t := range ts[1:] {
			next := vertex(a.Lerp(b, t))
			if next == prev {
				continue
			}
			e := edge{prev, next}
			prev = next
			if seen[e] {
				continue
			}
			seen[e] = true
			if onBoundary(p, pts[e.from], pts[e.to], eps) {
				edges = append(edges, e)
			}
		}
	}

	outgoing := make(map[int][]int)
	for i, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], i)
	}
	used := make([]bool, len(edges))
	var loops []models.Polygon
	for s := range edges {
		if used[s] {
			continue
		}
		var loop models.Polygon
		cur, closed := s, false
		for steps := 0; steps < len(edges); steps++ {
			used[cur] = true
			e := edges[cur]
			loop = append(loop, pts[e.from])
			if e.to == edges[s].from {
				closed = true
				break
			}
			// at a pinch take the sharpest left turn so touching loops
			// stay apart
			in := pts[e.to].Sub(pts[e.from])
			next, best := -1, math.Inf(-1)
			for _, k := range outgoing[e.to] {
				if used[k] {
					continue
				}
				out := pts[edges[k].to].Sub(pts[edges[k].from])
				if turn := math.Atan2(in.Cross(out), in.Dot(out)); turn > best {
					next, best = k, turn
				}
			}
			if next < 0 {
				break
			}
			cur = next
		}
		if !closed {
			continue
		}
		if loop = Simplify(loop, eps); loop != nil && loop.SignedArea() > eps {
			loops = append(loops, loop)
		}
	}
	return loops
}

func boxesTouch(a, b, c, d models.Vec2, eps float64) bool {
	return math.Max(a.X, b.X)+eps >= math.Min(c.X, d.X) &&
		math.Max(c.X, d.X)+eps >= math.Min(a.X, b.X) &&
		math.Max(a.Y, b.Y)+eps >= math.Min(c.Y, d.Y) &&
		math.Max(c.Y, d.Y)+eps >= math.Min(a.Y, b.Y)
}

// contacts returns the parameter pairs (along ab, along cd) where the two
// segments meet. Collinear overlaps report every endpoint lying on the
// other segment.
func contacts(a, b, c, d models.Vec2, eps float64) [][2]float64 {
	ab, cd := b.Sub(a), d.Sub(c)
	la, lc := ab.Len(), cd.Len()
	if la == 0 || lc == 0 {
		return nil
	}
	den := ab.Cross(cd)
	if math.Abs(den) > eps*la*lc/math.Max(la, lc) {
		ac := c.Sub(a)
		t := ac.Cross(cd) / den
		u := ac.Cross(ab) / den
		if t < -eps/la || t > 1+eps/la || u < -eps/lc || u > 1+eps/lc {
			return nil
		}
		return [][2]float64{{clamp01(t), clamp01(u)}}
	}
	if math.Abs(ab.Cross(c.Sub(a)))/la > eps {
		return nil
	}
	var out [][2]float64
	for _, q := range []struct {
		pt models.Vec2
		u  float64
	}{{c, 0}, {d, 1}} {
		if t := q.pt.Sub(a).Dot(ab) / (la * la); t >= -eps/la && t <= 1+eps/la {
			out = append(out, [2]float64{clamp01(t), q.u})
		}
	}
	for _, q := range []struct {
		pt models.Vec2
		t  float64
	}{{a, 0}, {b, 1}} {
		if u := q.pt.Sub(c).Dot(cd) / (lc * lc); u >= -eps/lc && u <= 1+eps/lc {
			out = append(out, [2]float64{q.t, clamp01(u)})
		}
	}
	return out
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

// onBoundary reports whether edge ab separates positive winding on its
// left from non-positive winding on its right.
func onBoundary(p models.Polygon, a, b models.Vec2, eps float64) bool {
	mid := a.Lerp(b, 0.5)
	off := b.Sub(a).Unit().Perp().Scale(100 * eps)
	return Winding(p, mid.Add(off)) > 0 && Winding(p, mid.Sub(off)) <= 0
}

// Winding returns the winding number of the closed polyline p around q.
func Winding(p models.Polygon, q models.Vec2) int {
	w := 0
	n := len(p)
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		side := b.Sub(a).Cross(q.Sub(a))
		if a.Y <= q.Y {
			if b.Y > q.Y && side > 0 {
				w++
			}
		} else if b.Y <= q.Y && side < 0 {
			w--
		}
	}
	return w
}
