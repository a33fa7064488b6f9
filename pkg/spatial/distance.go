package spatial

import (
	"math"

	"tplpath/internal/models"
)

// ClosestOnSegment returns the parameter t in [0, 1] of the point of ab
// nearest to p.
func ClosestOnSegment(p, a, b models.Vec3) float64 {
	d := b.Sub(a)
	l2 := d.Dot(d)
	if l2 == 0 {
		return 0
	}
	return clamp01(p.Sub(a).Dot(d) / l2)
}

// PointSegment returns the distance from p to segment ab.
func PointSegment(p, a, b models.Vec3) float64 {
	t := ClosestOnSegment(p, a, b)
	return p.Dist(a.Add(b.Sub(a).Scale(t)))
}

// SegmentDistance returns the shortest distance between segments p0p1 and
// q0q1, using the clamped closest-points construction.
func SegmentDistance(p0, p1, q0, q1 models.Vec3) float64 {
	d1 := p1.Sub(p0)
	d2 := q1.Sub(q0)
	r := p0.Sub(q0)
	a := d1.Dot(d1)
	e := d2.Dot(d2)
	f := d2.Dot(r)

	const tiny = 1e-24
	var s, t float64
	switch {
	case a <= tiny && e <= tiny:
		return p0.Dist(q0)
	case a <= tiny:
		s = 0
		t = clamp01(f / e)
	default:
		c := d1.Dot(r)
		if e <= tiny {
			t = 0
			s = clamp01(-c / a)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom > tiny {
				s = clamp01((b*f - c*e) / denom)
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = clamp01(-c / a)
			} else if t > 1 {
				t = 1
				s = clamp01((b - c) / a)
			}
		}
	}
	c1 := p0.Add(d1.Scale(s))
	c2 := q0.Add(d2.Scale(t))
	return c1.Dist(c2)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
