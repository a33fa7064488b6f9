package models

import (
	"math"
)

// Vec2 is a point or direction in a layer plane (µm)
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2        { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2        { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2   { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Dot(o Vec2) float64     { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Cross(o Vec2) float64   { return v.X*o.Y - v.Y*o.X }
func (v Vec2) Len() float64           { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64    { return v.Sub(o).Len() }
func (v Vec2) Perp() Vec2             { return Vec2{-v.Y, v.X} }
func (v Vec2) At(z float64) Vec3      { return Vec3{v.X, v.Y, z} }
func (v Vec2) Lerp(o Vec2, t float64) Vec2 {
	return Vec2{v.X + (o.X-v.X)*t, v.Y + (o.Y-v.Y)*t}
}

// Unit returns v scaled to length 1, or the zero vector when v is zero.
func (v Vec2) Unit() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Vec3 is a point in stage coordinates (µm)
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64         { return math.Sqrt(v.Dot(v)) }
func (v Vec3) Dist(o Vec3) float64  { return v.Sub(o).Len() }
func (v Vec3) XY() Vec2             { return Vec2{v.X, v.Y} }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Min returns the component-wise minimum of v and o.
func (v Vec3) Min(o Vec3) Vec3 {
	return Vec3{math.Min(v.X, o.X), math.Min(v.Y, o.Y), math.Min(v.Z, o.Z)}
}

// Max returns the component-wise maximum of v and o.
func (v Vec3) Max(o Vec3) Vec3 {
	return Vec3{math.Max(v.X, o.X), math.Max(v.Y, o.Y), math.Max(v.Z, o.Z)}
}

// Triangle is one facet of a solid. Vertices are ordered counter-clockwise
// when seen from outside the solid.
type Triangle struct {
	A, B, C Vec3
}

// Normal returns the unit outward normal, or the zero vector for a
// degenerate facet.
func (t Triangle) Normal() Vec3 {
	n := t.B.Sub(t.A).Cross(t.C.Sub(t.A))
	l := n.Len()
	if l == 0 {
		return Vec3{}
	}
	return n.Scale(1 / l)
}

// Segment2 is an undirected planar segment produced by a plane cut
type Segment2 struct {
	A, B Vec2
}

// DistToSegment returns the distance from p to the segment ab.
func DistToSegment(p, a, b Vec2) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return p.Dist(a)
	}
	t := p.Sub(a).Dot(ab) / l2
	t = math.Max(0, math.Min(1, t))
	return p.Dist(a.Add(ab.Scale(t)))
}
