// Package spatial indexes straight segments for radius queries. Segments
// are cut into short pieces whose midpoints go into a gonum k-d tree; a
// query widens its radius by the piece length so that no segment within
// reach is missed, and callers filter the candidates exactly.
package spatial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"tplpath/internal/models"
)

// Point3D is one indexed piece midpoint
type Point3D struct {
	X, Y, Z float64

	// Seg is the index of the segment the piece belongs to
	Seg int
}

// Compare implements the kdtree.Comparable interface
func (p Point3D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point3D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point3D) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p Point3D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point3D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Points3D is a collection of Point3D that satisfies kdtree.Interface
type Points3D []Point3D

func (p Points3D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points3D) Len() int                              { return len(p) }
func (p Points3D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points3D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points3D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points3D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points3D
type pointPlane struct {
	Points3D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points3D[i].X < p.Points3D[j].X
	case 1:
		return p.Points3D[i].Y < p.Points3D[j].Y
	case 2:
		return p.Points3D[i].Z < p.Points3D[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points3D: p.Points3D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points3D[i], p.Points3D[j] = p.Points3D[j], p.Points3D[i]
}

// Segment is a straight 3D segment
type Segment struct {
	A, B models.Vec3
}

// Index answers "which segments come within r of this point" queries. Z
// is multiplied by ZScale before any distance is taken, which turns an
// ellipsoidal neighbourhood into a sphere. An Index is read-only after
// construction and safe for concurrent use through separate Searchers.
type Index struct {
	tree   *kdtree.Tree
	segs   []Segment
	piece  float64
	zScale float64
}

// NewIndex builds the index. piece bounds the (scaled) length of the
// pieces segments are cut into; zScale ≤ 0 means 1.
func NewIndex(segs []Segment, piece, zScale float64) *Index {
	if zScale <= 0 {
		zScale = 1
	}
	ix := &Index{segs: append([]Segment(nil), segs...), piece: piece, zScale: zScale}
	var pts Points3D
	for i, s := range ix.segs {
		a, b := ix.scale(s.A), ix.scale(s.B)
		n := 1
		if piece > 0 {
			n = int(math.Ceil(a.Dist(b) / piece))
			if n < 1 {
				n = 1
			}
		}
		for k := 0; k < n; k++ {
			t := (float64(k) + 0.5) / float64(n)
			m := a.Add(b.Sub(a).Scale(t))
			pts = append(pts, Point3D{X: m.X, Y: m.Y, Z: m.Z, Seg: i})
		}
		if piece <= 0 {
			// without a piece bound every segment is one piece as long as itself
			ix.piece = math.Max(ix.piece, a.Dist(b))
		}
	}
	if len(pts) > 0 {
		ix.tree = kdtree.New(pts, true)
	}
	return ix
}

func (ix *Index) scale(p models.Vec3) models.Vec3 {
	return models.Vec3{X: p.X, Y: p.Y, Z: p.Z * ix.zScale}
}

// Len returns the number of indexed segments.
func (ix *Index) Len() int { return len(ix.segs) }

// Segment returns segment i as given to NewIndex.
func (ix *Index) Segment(i int) Segment { return ix.segs[i] }

// Searcher runs queries against an Index. Each goroutine needs its own.
type Searcher struct {
	ix   *Index
	seen []uint32
	gen  uint32
	out  []int
}

// Searcher returns a new query handle.
func (ix *Index) Searcher() *Searcher {
	return &Searcher{ix: ix, seen: make([]uint32, len(ix.segs))}
}

func (s *Searcher) reset() {
	s.out = s.out[:0]
	s.gen++
	if s.gen == 0 {
		for i := range s.seen {
			s.seen[i] = 0
		}
		s.gen = 1
	}
}

func (s *Searcher) collect(q models.Vec3, r float64) {
	keeper := kdtree.NewDistKeeper(r * r)
	s.ix.tree.NearestSet(keeper, Point3D{X: q.X, Y: q.Y, Z: q.Z})
	for _, item := range keeper.Heap {
		// skip the sentinel
		if item.Comparable == nil {
			continue
		}
		seg := item.Comparable.(Point3D).Seg
		if s.seen[seg] != s.gen {
			s.seen[seg] = s.gen
			s.out = append(s.out, seg)
		}
	}
}

// Near returns, in ascending order, the candidate segments that may lie
// within scaled distance r of p. The slice is reused by the next call.
func (s *Searcher) Near(p models.Vec3, r float64) []int {
	s.reset()
	if s.ix.tree == nil {
		return nil
	}
	s.collect(s.ix.scale(p), r+s.ix.piece/2)
	sort.Ints(s.out)
	return s.out
}

// NearSegment returns the candidate segments that may lie within scaled
// distance r of any point of segment ab.
func (s *Searcher) NearSegment(a, b models.Vec3, r float64) []int {
	s.reset()
	if s.ix.tree == nil {
		return nil
	}
	sa, sb := s.ix.scale(a), s.ix.scale(b)
	n := 1
	if s.ix.piece > 0 {
		n = int(math.Ceil(sa.Dist(sb) / s.ix.piece))
		if n < 1 {
			n = 1
		}
	}
	step := sa.Dist(sb) / float64(n)
	for k := 0; k < n; k++ {
		t := (float64(k) + 0.5) / float64(n)
		s.collect(sa.Add(sb.Sub(sa).Scale(t)), r+s.ix.piece/2+step/2)
	}
	sort.Ints(s.out)
	return s.out
}
