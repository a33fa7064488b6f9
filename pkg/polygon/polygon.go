// Package polygon implements the planar operations the hatch generator is
// built on: cleanup, segment clipping against a set of contours, and inward
// offsetting.
package polygon

import (
	"math"
	"sort"

	"tplpath/internal/models"
)

// Simplify drops repeated vertices and vertices whose neighbours are
// collinear within eps. It returns nil when fewer than three vertices remain.
func Simplify(p models.Polygon, eps float64) models.Polygon {
	out := make(models.Polygon, 0, len(p))
	for _, v := range p {
		if len(out) > 0 && out[len(out)-1].Dist(v) <= eps {
			continue
		}
		out = append(out, v)
	}
	for len(out) > 1 && out[0].Dist(out[len(out)-1]) <= eps {
		out = out[:len(out)-1]
	}
	changed := true
	for changed && len(out) >= 3 {
		changed = false
		for i := 0; i < len(out) && len(out) >= 3; i++ {
			prev := out[(i+len(out)-1)%len(out)]
			next := out[(i+1)%len(out)]
			base := next.Sub(prev)
			if l := base.Len(); l > 0 && math.Abs(base.Cross(out[i].Sub(prev)))/l <= eps &&
				out[i].Sub(prev).Dot(next.Sub(out[i])) >= 0 {
				out = append(out[:i], out[i+1:]...)
				changed = true
				i--
			}
		}
	}
	if len(out) < 3 {
		return nil
	}
	return out
}

// InsideAll applies the even-odd rule across every contour, which yields
// "inside an outer boundary and outside its holes" for a well-formed layer.
func InsideAll(contours []models.Contour, p models.Vec2) bool {
	inside := false
	for _, c := range contours {
		if c.Polygon.Contains(p) {
			inside = !inside
		}
	}
	return inside
}

// ClipSegment returns the pieces of segment ab that lie inside the
// contours. Pieces keep the a→b direction and pieces shorter than minLen
// are dropped.
func ClipSegment(contours []models.Contour, a, b models.Vec2, minLen float64) [][2]models.Vec2 {
	d := b.Sub(a)
	if d.Len() == 0 {
		return nil
	}
	ts := []float64{0, 1}
	for _, c := range contours {
		p := c.Polygon
		for i := range p {
			if t, ok := crossParam(a, d, p[i], p[(i+1)%len(p)]); ok {
				ts = append(ts, t)
			}
		}
	}
	sort.Float64s(ts)
	var out [][2]models.Vec2
	for i := 0; i+1 < len(ts); i++ {
		t0, t1 := ts[i], ts[i+1]
		if t1-t0 <= 0 {
			continue
		}
		mid := a.Add(d.Scale((t0 + t1) / 2))
		if !InsideAll(contours, mid) {
			continue
		}
		p0, p1 := a.Add(d.Scale(t0)), a.Add(d.Scale(t1))
		// merge with the previous piece when they touch
		if n := len(out); n > 0 && out[n-1][1] == p0 {
			out[n-1][1] = p1
			continue
		}
		out = append(out, [2]models.Vec2{p0, p1})
	}
	if minLen > 0 {
		kept := out[:0]
		for _, s := range out {
			if s[0].Dist(s[1]) >= minLen {
				kept = append(kept, s)
			}
		}
		out = kept
	}
	return out
}

// crossParam returns the parameter along a+t·d where it crosses edge pq.
func crossParam(a, d, p, q models.Vec2) (float64, bool) {
	e := q.Sub(p)
	den := d.Cross(e)
	if den == 0 {
		return 0, false
	}
	ap := p.Sub(a)
	t := ap.Cross(e) / den
	u := ap.Cross(d) / den
	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// Offset moves every edge of p to its left by dist and rebuilds the vertices
// from the shifted edge lines. For a counter-clockwise outer boundary that
// shrinks the polygon; for a clockwise hole it grows the hole. Edges that
// collapse (their direction flips) are removed and their neighbours
// re-intersected, one event at a time. Where the shifted boundary crosses
// itself, as when a neck pinches off, the result is cut into the simple
// loops of p's orientation, so one polygon may come back as several.
// Offset returns nil once the polygon vanishes.
func Offset(p models.Polygon, dist float64) []models.Polygon {
	n := len(p)
	if n < 3 {
		return nil
	}
	type line struct {
		origin models.Vec2
		dir    models.Vec2
	}
	lines := make([]line, 0, n)
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		dir := b.Sub(a).Unit()
		if dir == (models.Vec2{}) {
			continue
		}
		lines = append(lines, line{origin: a.Add(dir.Perp().Scale(dist)), dir: dir})
	}
	for len(lines) >= 3 {
		m := len(lines)
		verts := make(models.Polygon, m)
		strip := -1
		for i := 0; i < m; i++ {
			l0, l1 := lines[(i+m-1)%m], lines[i]
			den := l0.dir.Cross(l1.dir)
			if math.Abs(den) < 1e-12 {
				if l0.dir.Dot(l1.dir) < 0 {
					// antiparallel neighbours: the strip between them closed
					strip = i
					break
				}
				verts[i] = l1.origin
				continue
			}
			t := l1.origin.Sub(l0.origin).Cross(l1.dir) / den
			verts[i] = l0.origin.Add(l0.dir.Scale(t))
		}
		if strip >= 0 {
			prev := (strip + m - 1) % m
			kept := lines[:0:0]
			for i, l := range lines {
				if i != strip && i != prev {
					kept = append(kept, l)
				}
			}
			lines = kept
			continue
		}
		// find the first collapsed edge; edge i runs verts[i] → verts[i+1]
		collapsed := -1
		for i := 0; i < m; i++ {
			if verts[(i+1)%m].Sub(verts[i]).Dot(lines[i].dir) <= 0 {
				collapsed = i
				break
			}
		}
		if collapsed < 0 {
			return Resolve(verts, p.SignedArea())
		}
		lines = append(lines[:collapsed], lines[collapsed+1:]...)
	}
	return nil
}

// SelfIntersects reports whether any two non-adjacent edges of p cross.
func SelfIntersects(p models.Polygon) bool {
	n := len(p)
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			c, d := p[j], p[(j+1)%n]
			if segmentsCross(a, b, c, d) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(a, b, c, d models.Vec2) bool {
	d1 := b.Sub(a).Cross(c.Sub(a))
	d2 := b.Sub(a).Cross(d.Sub(a))
	d3 := d.Sub(c).Cross(a.Sub(c))
	d4 := d.Sub(c).Cross(b.Sub(c))
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// MajorAxis returns the unit direction of the polygon's longest extent,
// taken from the second moments of its vertices.
func MajorAxis(p models.Polygon) models.Vec2 {
	c := p.Centroid()
	var sxx, syy, sxy float64
	for _, v := range p {
		d := v.Sub(c)
		sxx += d.X * d.X
		syy += d.Y * d.Y
		sxy += d.X * d.Y
	}
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	return models.Vec2{X: math.Cos(theta), Y: math.Sin(theta)}
}
