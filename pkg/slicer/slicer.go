// Package slicer cuts a mesh into per-layer closed contours.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/mesh"
	"tplpath/pkg/polygon"
)

// Options controls slicing tolerances and parallelism
type Options struct {
	// Epsilon is the endpoint matching tolerance. Zero selects
	// RelativeEpsilon × the mesh bounding-box diagonal.
	Epsilon float64

	// Perturb is the z offset tried above and below a layer that fails to
	// close. Zero selects 10 × Epsilon; negative disables the retry.
	Perturb float64

	// NumCores bounds the number of layers sliced concurrently
	NumCores int

	Logger *zap.Logger
}

// RelativeEpsilon is the default tolerance relative to the mesh diagonal
const RelativeEpsilon = 1e-9

const minEpsilon = 1e-12

func (o Options) withDefaults(m *mesh.Mesh) Options {
	if o.Epsilon <= 0 {
		o.Epsilon = math.Max(RelativeEpsilon*m.Diagonal(), minEpsilon)
	}
	if o.Perturb == 0 {
		o.Perturb = 10 * o.Epsilon
	}
	if o.NumCores <= 0 {
		o.NumCores = runtime.NumCPU()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// LayerHeights returns the nominal layer bottoms zmin, zmin+h, … covering
// the mesh's z extent. The count is ceil(extent/h); a final partial layer
// is always included.
func LayerHeights(m *mesh.Mesh, h float64) ([]float64, error) {
	if h <= 0 {
		return nil, fmt.Errorf("layer height must be positive, got %g", h)
	}
	lo, hi := m.Bounds()
	extent := hi.Z - lo.Z
	n := int(math.Ceil(extent/h - 1e-9))
	if n < 1 {
		n = 1
	}
	zs := make([]float64, n)
	for i := range zs {
		zs[i] = lo.Z + float64(i)*h
	}
	return zs, nil
}

// AdaptiveHeights is LayerHeights with the top topLayers·topHeight of the
// part re-sliced at the finer topHeight.
func AdaptiveHeights(m *mesh.Mesh, h float64, topLayers int, topHeight float64) ([]float64, error) {
	if topLayers <= 0 || topHeight <= 0 || topHeight >= h {
		return LayerHeights(m, h)
	}
	lo, hi := m.Bounds()
	split := hi.Z - float64(topLayers)*topHeight
	if split <= lo.Z {
		return LayerHeights(m, topHeight)
	}
	var zs []float64
	for z := lo.Z; z < split-1e-9; z += h {
		zs = append(zs, z)
	}
	start := split
	if len(zs) > 0 && zs[len(zs)-1]+h > split {
		start = zs[len(zs)-1] + h
	}
	for z := start; z < hi.Z-1e-9; z += topHeight {
		zs = append(zs, z)
	}
	return zs, nil
}

// Slice cuts the mesh into one Layer per entry of zs. Each entry is the
// bottom of a slab that extends to the next entry (the last to the top of
// the mesh); the slab is cut at its mid-plane, which becomes Layer.Z. Layer
// order follows zs. Layers are sliced concurrently and the first failure
// cancels the rest.
func Slice(ctx context.Context, m *mesh.Mesh, zs []float64, opts Options) ([]models.Layer, error) {
	if !sort.Float64sAreSorted(zs) {
		return nil, fmt.Errorf("z positions must be ascending")
	}
	opts = opts.withDefaults(m)
	_, hi := m.Bounds()

	layers := make([]models.Layer, len(zs))
	errs := make([]error, len(zs))

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := opts.NumCores
	if workers > len(zs) {
		workers = len(zs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				top := hi.Z
				if i+1 < len(zs) {
					top = zs[i+1]
				}
				layer, err := sliceLayer(m, i, zs[i], top, opts)
				if err != nil {
					errs[i] = err
					cancel()
					continue
				}
				layers[i] = layer
			}
		}()
	}

feed:
	for i := range zs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return layers, nil
}

// sliceLayer cuts the slab [bottom, top] at its mid-plane, retrying at a
// perturbed height when the contours fail to close.
func sliceLayer(m *mesh.Mesh, index int, bottom, top float64, opts Options) (models.Layer, error) {
	thickness := top - bottom
	z := bottom + thickness/2
	layer := models.Layer{Index: index, Z: z, Thickness: thickness}

	contours, err := SliceAt(m, z, opts.Epsilon)
	if err == nil {
		layer.Contours = contours
		return layer, nil
	}
	var degenerate *fault.DegenerateSliceError
	if !errors.As(err, &degenerate) || opts.Perturb < 0 {
		return layer, annotate(err, index, z)
	}
	for _, dz := range []float64{opts.Perturb, -opts.Perturb} {
		contours, perr := SliceAt(m, z+dz, opts.Epsilon)
		if perr == nil {
			opts.Logger.Warn("layer closed after z perturbation",
				zap.Int("layer", index), zap.Float64("z", z), zap.Float64("dz", dz))
			layer.Contours = contours
			return layer, nil
		}
	}
	return layer, annotate(err, index, z)
}

func annotate(err error, index int, z float64) error {
	var degenerate *fault.DegenerateSliceError
	if errors.As(err, &degenerate) {
		degenerate.Layer = index
		degenerate.Z = z
		return degenerate
	}
	var geo *fault.GeometryError
	if errors.As(err, &geo) {
		geo.Layer = index
		geo.Z = z
		return geo
	}
	return fmt.Errorf("layer %d (z=%.6g): %w", index, z, err)
}

// SliceAt cuts the mesh at exactly z and returns the classified contours:
// outer boundaries counter-clockwise, holes clockwise.
func SliceAt(m *mesh.Mesh, z, eps float64) ([]models.Contour, error) {
	segs := m.IntersectPlane(z)
	if len(segs) == 0 {
		return nil, nil
	}
	loops, err := chain(segs, eps)
	if err != nil {
		var degenerate *fault.DegenerateSliceError
		if errors.As(err, &degenerate) {
			degenerate.Z = z
		}
		return nil, err
	}
	return classify(loops, eps), nil
}

// classify orients each loop by nesting depth: loops inside an even number
// of other loops are outer boundaries, odd ones are holes.
func classify(loops []models.Polygon, eps float64) []models.Contour {
	var polys []models.Polygon
	for _, l := range loops {
		if p := polygon.Simplify(l, eps); p != nil && p.Area() > eps*eps {
			polys = append(polys, p)
		}
	}
	contours := make([]models.Contour, 0, len(polys))
	for i, p := range polys {
		depth := 0
		sample := p[0]
		for j, q := range polys {
			if i != j && q.Contains(sample) {
				depth++
			}
		}
		hole := depth%2 == 1
		ccw := p.SignedArea() > 0
		if hole == ccw {
			p = p.Reversed()
		}
		contours = append(contours, models.Contour{Polygon: p, Hole: hole})
	}
	return contours
}
