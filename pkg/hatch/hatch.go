// Package hatch fills layer cross-sections with scan segments.
package hatch

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/polygon"
)

// DefaultStageResolution is the smallest addressable stage step in µm (1 nm)
const DefaultStageResolution = 0.001

// Options tunes the fill beyond the pattern and spacing
type Options struct {
	// Angle is the rectilinear scan direction in radians
	Angle float64

	// CrossHatch rotates rectilinear lines by 90° on odd layers
	CrossHatch bool

	// Bidirectional reverses every other rectilinear line and keeps the
	// lines of one region in a single chain
	Bidirectional bool

	// StageResolution is the smallest spacing the stage can resolve; a
	// hatch distance below it is rejected. Zero selects
	// DefaultStageResolution.
	StageResolution float64

	// MinSegment drops clipped pieces shorter than this (µm). Zero keeps
	// everything longer than 1e-9.
	MinSegment float64

	// NumCores bounds the layers filled concurrently by FillLayers
	NumCores int
}

func (o Options) withDefaults() Options {
	if o.StageResolution <= 0 {
		o.StageResolution = DefaultStageResolution
	}
	if o.MinSegment <= 0 {
		o.MinSegment = 1e-9
	}
	if o.NumCores <= 0 {
		o.NumCores = runtime.NumCPU()
	}
	return o
}

// Fill covers one layer with scan segments following pattern. Every
// returned segment carries the layer index and height; power and speed are
// left for the sequencer. A non-empty region always yields at least one
// segment, and parts of a region narrower than the hatch distance that the
// pattern misses get a centerline of their own.
func Fill(layer models.Layer, hatchDistance float64, pattern models.FillPattern, opts Options) ([]models.ScanSegment, error) {
	opts = opts.withDefaults()
	if hatchDistance <= 0 {
		return nil, fmt.Errorf("hatch distance must be positive, got %g", hatchDistance)
	}
	if hatchDistance < opts.StageResolution {
		return nil, &fault.ConstraintViolationError{
			Parameter: "hatch_distance",
			Value:     hatchDistance,
			Limit:     opts.StageResolution,
			Layer:     layer.Index,
		}
	}

	f := &filler{layer: layer, d: hatchDistance, opts: opts}
	for _, region := range layer.Regions() {
		before := len(f.out)
		switch pattern {
		case models.Rectilinear, "":
			angle := opts.Angle
			if opts.CrossHatch && layer.Index%2 == 1 {
				angle += math.Pi / 2
			}
			f.rectilinear(region, angle)
		case models.Concentric:
			f.concentric(region)
		case models.Spiral:
			f.spiral(region)
		default:
			return nil, fmt.Errorf("unknown fill pattern %q", pattern)
		}
		if len(f.out) == before {
			f.centerline(region)
		} else {
			f.coverSlivers(region, f.out[before:])
		}
	}
	return f.out, nil
}

// FillLayers fills every layer concurrently and returns the segments
// grouped per layer in input order.
func FillLayers(ctx context.Context, layers []models.Layer, hatchDistance float64, pattern models.FillPattern, opts Options) ([][]models.ScanSegment, error) {
	opts = opts.withDefaults()
	out := make([][]models.ScanSegment, len(layers))
	errs := make([]error, len(layers))

	sem := make(chan struct{}, opts.NumCores)
	var wg sync.WaitGroup
	for i := range layers {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], errs[i] = Fill(layers[i], hatchDistance, pattern, opts)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("filling layer %d: %w", layers[i].Index, err)
		}
	}
	return out, nil
}

type filler struct {
	layer models.Layer
	d     float64
	opts  Options
	chain int
	out   []models.ScanSegment
}

func (f *filler) nextChain() int {
	f.chain++
	return f.chain
}

func (f *filler) emit(a, b models.Vec2, chain int, fixed bool) {
	f.out = append(f.out, models.ScanSegment{
		Start: a,
		End:   b,
		Z:     f.layer.Z,
		Layer: f.layer.Index,
		Chain: chain,
		Fixed: fixed,
	})
}

// rectilinear clips a family of parallel lines, centred across the region's
// extent, against the region's boundaries.
func (f *filler) rectilinear(region models.Region, angle float64) {
	u := models.Vec2{X: math.Cos(angle), Y: math.Sin(angle)}
	n := u.Perp()
	smin, smax := project(region.Outer, n)
	umin, umax := project(region.Outer, u)
	span := smax - smin
	count := int(math.Floor(span/f.d + 1e-9))
	if count < 1 {
		return
	}
	first := smin + (span-float64(count-1)*f.d)/2
	contours := region.Contours()

	chain := 0
	if f.opts.Bidirectional {
		chain = f.nextChain()
	}
	for i := 0; i < count; i++ {
		s := first + float64(i)*f.d
		a := u.Scale(umin - 1).Add(n.Scale(s))
		b := u.Scale(umax + 1).Add(n.Scale(s))
		pieces := polygon.ClipSegment(contours, a, b, f.opts.MinSegment)
		if f.opts.Bidirectional && i%2 == 1 {
			for j := len(pieces) - 1; j >= 0; j-- {
				f.emit(pieces[j][1], pieces[j][0], chain, false)
			}
			continue
		}
		for _, p := range pieces {
			f.emit(p[0], p[1], chain, !f.opts.Bidirectional)
		}
	}
}

func project(p models.Polygon, axis models.Vec2) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range p {
		s := v.Dot(axis)
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return lo, hi
}

// centerline writes a single segment along the region's major axis. It is
// the fallback for features narrower than the hatch distance.
func (f *filler) centerline(region models.Region) {
	if len(region.Outer) < 3 {
		return
	}
	axis := polygon.MajorAxis(region.Outer)
	perp := axis.Perp()
	c := region.Outer.Centroid()
	umin, umax := project(region.Outer, axis)
	smin, smax := project(region.Outer, perp)
	contours := region.Contours()
	cs := c.Dot(perp)
	for _, frac := range []float64{0, 0.25, -0.25, 0.375, -0.375, 0.45, -0.45} {
		s := cs + frac*(smax-smin)
		if s < smin || s > smax {
			continue
		}
		a := axis.Scale(umin - 1).Add(perp.Scale(s))
		b := axis.Scale(umax + 1).Add(perp.Scale(s))
		pieces := polygon.ClipSegment(contours, a, b, f.opts.MinSegment)
		if len(pieces) == 0 {
			continue
		}
		longest := pieces[0]
		for _, p := range pieces[1:] {
			if p[0].Dist(p[1]) > longest[0].Dist(longest[1]) {
				longest = p
			}
		}
		f.emit(longest[0], longest[1], 0, false)
		return
	}
	// sliver too thin to hit with a chord: trace its longest edge
	best := 0
	for i := range region.Outer {
		j := (i + 1) % len(region.Outer)
		if region.Outer[i].Dist(region.Outer[j]) > region.Outer[best].Dist(region.Outer[(best+1)%len(region.Outer)]) {
			best = i
		}
	}
	f.emit(region.Outer[best], region.Outer[(best+1)%len(region.Outer)], 0, false)
}

// coverSlivers walks the region's boundary and collects stretches farther
// than the hatch distance from every segment written for it. Each stretch
// outlines a feature the pattern could not reach and gets a centerline.
func (f *filler) coverSlivers(region models.Region, written []models.ScanSegment) {
	for _, c := range region.Contours() {
		samples := sampleBoundary(c.Polygon, f.d/4)
		far := make([]bool, len(samples))
		gap := false
		for i, p := range samples {
			far[i] = !reached(p, written, f.d)
			gap = gap || far[i]
		}
		if !gap {
			continue
		}
		for _, run := range farRuns(samples, far) {
			f.centerline(models.Region{Outer: run})
		}
	}
}

// sampleBoundary returns points along the closed polygon no more than step
// apart, starting at each vertex.
func sampleBoundary(p models.Polygon, step float64) []models.Vec2 {
	var out []models.Vec2
	for i := range p {
		a, b := p[i], p[(i+1)%len(p)]
		k := int(math.Ceil(a.Dist(b) / step))
		if k < 1 {
			k = 1
		}
		for j := 0; j < k; j++ {
			out = append(out, a.Lerp(b, float64(j)/float64(k)))
		}
	}
	return out
}

func reached(p models.Vec2, segs []models.ScanSegment, r float64) bool {
	limit := r * (1 + 1e-9)
	for _, s := range segs {
		if segmentDist(p, s.Start, s.End) <= limit {
			return true
		}
	}
	return false
}

func segmentDist(p, a, b models.Vec2) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return p.Dist(a)
	}
	t := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/l2))
	return p.Dist(a.Add(ab.Scale(t)))
}

// farRuns groups consecutive far samples of a closed boundary into open
// outlines, each padded with the reached sample on either side.
func farRuns(samples []models.Vec2, far []bool) []models.Polygon {
	n := len(samples)
	start := -1
	for i, v := range far {
		if !v {
			start = i
			break
		}
	}
	if start < 0 {
		return []models.Polygon{samples}
	}
	var runs []models.Polygon
	var run models.Polygon
	for k := 1; k <= n; k++ {
		i := (start + k) % n
		if far[i] {
			if len(run) == 0 {
				run = append(run, samples[(i+n-1)%n])
			}
			run = append(run, samples[i])
			continue
		}
		if len(run) > 0 {
			runs = append(runs, append(run, samples[i]))
			run = nil
		}
	}
	return runs
}
