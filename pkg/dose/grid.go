package dose

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/mesh"
	"tplpath/pkg/spatial"
	"tplpath/pkg/toolpath"
)

// MaxGridPoints bounds the evaluation grid
const MaxGridPoints = 20_000_000

// Grid is the sampled dose field of one toolpath
type Grid struct {
	// Dose holds the accumulated dose per grid point
	Dose *models.Volume

	// Target marks grid points that belong to the intended solid, indexed
	// like Dose.Data
	Target []bool
}

// Evaluate samples the dose of tp on a regular grid and judges it against
// the material threshold and, when given, the target solid.
func Evaluate(ctx context.Context, tp *toolpath.Toolpath, laser models.Laser, material models.Material, opts Options) (models.QualityReport, error) {
	report, _, err := Analyze(ctx, tp, laser, material, opts)
	return report, err
}

// Analyze is Evaluate that also hands back the sampled grid.
func Analyze(ctx context.Context, tp *toolpath.Toolpath, laser models.Laser, material models.Material, opts Options) (models.QualityReport, *Grid, error) {
	opts = opts.withDefaults(laser)
	m, err := NewModel(tp, laser, material, opts)
	if err != nil {
		return models.QualityReport{}, nil, err
	}
	grid, err := m.Sample(ctx, opts)
	if err != nil {
		return models.QualityReport{}, nil, err
	}
	report := m.report(grid, tp, opts)
	opts.Logger.Debug("dose evaluated",
		zap.Int("exposures", m.Len()),
		zap.Int("targets", report.Stats.Targets),
		zap.Float64("peak_dose", report.Stats.PeakDose),
		zap.Float64("under_fraction", report.Stats.UnderExposedFraction),
		zap.Float64("voxel_lateral", report.VoxelLateral))
	return report, grid, nil
}

// Sample evaluates the dose on the grid covering the exposures, padded by
// the interaction radius, and the target solid. Z-planes are spread over a
// worker pool; cancellation is checked per plane.
func (m *Model) Sample(ctx context.Context, opts Options) (*Grid, error) {
	opts = opts.withDefaults(m.laser)
	lo, hi, ok := m.bounds(opts.Target)
	if !ok {
		return &Grid{Dose: models.NewVolume(0, 0, 0, models.Vec3{}, models.Vec3{})}, nil
	}
	step := models.Vec3{X: opts.LateralStep, Y: opts.LateralStep, Z: opts.AxialStep}
	nx := int(math.Floor((hi.X-lo.X)/step.X)) + 1
	ny := int(math.Floor((hi.Y-lo.Y)/step.Y)) + 1
	nz := int(math.Floor((hi.Z-lo.Z)/step.Z)) + 1
	if total := float64(nx) * float64(ny) * float64(nz); total > MaxGridPoints {
		return nil, fmt.Errorf("dose grid of %dx%dx%d points exceeds the %d point limit", nx, ny, nz, MaxGridPoints)
	}
	vol := models.NewVolume(nx, ny, nz, lo, step)
	target := make([]bool, len(vol.Data))

	workers := opts.NumCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > nz {
		workers = nz
	}
	planes := make(chan int)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := m.index.Searcher()
			for k := range planes {
				if errs[w] != nil {
					continue
				}
				if err := ctx.Err(); err != nil {
					errs[w] = err
					continue
				}
				errs[w] = m.samplePlane(vol, target, k, s, opts.Target)
			}
		}(w)
	}
	for k := 0; k < nz; k++ {
		planes <- k
	}
	close(planes)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &Grid{Dose: vol, Target: target}, nil
}

func (m *Model) bounds(target *mesh.Mesh) (lo, hi models.Vec3, ok bool) {
	lo, hi, ok = boundsOf(m.moves)
	if ok {
		pad := models.Vec3{X: m.rl, Y: m.rl, Z: m.ra}
		lo, hi = lo.Sub(pad), hi.Add(pad)
	}
	if target != nil {
		tlo, thi := target.Bounds()
		if !ok {
			return tlo, thi, true
		}
		lo, hi = lo.Min(tlo), hi.Max(thi)
	}
	return lo, hi, ok || target != nil
}

func boundsOf(moves []toolpath.Move) (lo, hi models.Vec3, ok bool) {
	for i, mv := range moves {
		if i == 0 {
			lo, hi = mv.From, mv.From
		}
		lo = lo.Min(mv.From).Min(mv.To)
		hi = hi.Max(mv.From).Max(mv.To)
	}
	return lo, hi, len(moves) > 0
}

// samplePlane fills z-plane k of the grid.
func (m *Model) samplePlane(vol *models.Volume, target []bool, k int, s *spatial.Searcher, solid *mesh.Mesh) error {
	ml, ma := m.laser.WaistLateral, m.laser.WaistAxial/2
	for j := 0; j < vol.Height; j++ {
		var rows [5][]float64
		if solid != nil {
			p := vol.Point(0, j, k)
			rows[0] = solid.Crossings(p.Y, p.Z)
			rows[1] = solid.Crossings(p.Y-ml, p.Z)
			rows[2] = solid.Crossings(p.Y+ml, p.Z)
			rows[3] = solid.Crossings(p.Y, p.Z-ma)
			rows[4] = solid.Crossings(p.Y, p.Z+ma)
		}
		for i := 0; i < vol.Width; i++ {
			p := vol.Point(i, j, k)
			d, foot := m.sample(p, s)
			if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				return &fault.ModelAssumptionError{
					Invariant: "non-negative finite dose",
					Detail:    fmt.Sprintf("dose %g at (%.4g, %.4g, %.4g)", d, p.X, p.Y, p.Z),
				}
			}
			idx := vol.Index(i, j, k)
			vol.Data[idx] = d
			if solid != nil {
				target[idx] = eroded(rows, p.X, ml)
			} else {
				target[idx] = foot
			}
		}
	}
	return nil
}

// eroded reports whether x lies inside the solid on the centre row and
// stays inside when moved by the lateral margin or onto the neighbouring
// rows.
func eroded(rows [5][]float64, x, margin float64) bool {
	if !mesh.InsideCrossings(rows[0], x) ||
		!mesh.InsideCrossings(rows[0], x-margin) ||
		!mesh.InsideCrossings(rows[0], x+margin) {
		return false
	}
	for _, r := range rows[1:] {
		if !mesh.InsideCrossings(r, x) {
			return false
		}
	}
	return true
}

// sample returns the dose at p and whether p lies on the footprint of a
// line: within a quarter waist of its axis laterally and axially.
func (m *Model) sample(p models.Vec3, s *spatial.Searcher) (float64, bool) {
	var sum float64
	foot := false
	fl := m.laser.WaistLateral / 4
	fa := m.laser.WaistAxial / 4
	for _, i := range s.Near(p, m.rl) {
		mv := m.moves[i]
		sum += m.Contribution(mv, p)
		if !foot && mv.Power > 0 {
			t := spatial.ClosestOnSegment(p, mv.From, mv.To)
			d := p.Sub(mv.From.Add(mv.To.Sub(mv.From).Scale(t)))
			foot = d.X*d.X+d.Y*d.Y <= fl*fl && math.Abs(d.Z) <= fa
		}
	}
	return sum, foot
}

// ConversionVolume maps a dose grid to degree of conversion.
func ConversionVolume(g *Grid, material models.Material) *models.Volume {
	out := *g.Dose
	out.Data = make([]float64, len(g.Dose.Data))
	for i, d := range g.Dose.Data {
		out.Data[i] = Conversion(d, material)
	}
	return &out
}

func (m *Model) report(g *Grid, tp *toolpath.Toolpath, opts Options) models.QualityReport {
	var r models.QualityReport
	power, speed := nominal(tp)
	r.VoxelLateral, r.VoxelAxial = VoxelSize(m.laser, m.material, power, speed, opts.RadiusFactor)
	if opts.HatchDistance > 0 {
		r.LinesMerged = LinesMerged(m.laser, m.material, power, speed, opts.HatchDistance, opts.RadiusFactor)
	}

	var conv []float64
	if len(g.Dose.Data) > 0 {
		r.Stats.PeakDose = floats.Max(g.Dose.Data)
	}
	under := 0
	for i, d := range g.Dose.Data {
		c := Conversion(d, m.material)
		if g.Target[i] {
			conv = append(conv, c)
			if c < m.material.Threshold {
				under++
			}
		}
		if opts.KeepSamples {
			k := i / (g.Dose.Width * g.Dose.Height)
			rem := i % (g.Dose.Width * g.Dose.Height)
			r.Samples = append(r.Samples, models.DoseSample{
				Pos:        g.Dose.Point(rem%g.Dose.Width, rem/g.Dose.Width, k),
				Dose:       d,
				Conversion: c,
				Target:     g.Target[i],
			})
		}
	}

	r.Stats.Targets = len(conv)
	if len(conv) > 0 {
		r.Stats.MeanConversion, r.Stats.StdConversion = stat.MeanStdDev(conv, nil)
		sort.Float64s(conv)
		r.Stats.MinConversion = conv[0]
		r.Stats.P10Conversion = stat.Quantile(0.1, stat.Empirical, conv, nil)
		r.Stats.UnderExposedFraction = float64(under) / float64(len(conv))
	}
	r.UnderExposed = under > 0
	if nom := m.material.NominalFeature; nom > 0 {
		r.OverExposed = r.VoxelLateral > nom*(1+m.material.OverTolerance)
	}
	r.Score = Score(r, m.material)
	return r
}

// nominal returns the length-weighted power and speed of the exposures,
// which set the voxel size the report quotes.
func nominal(tp *toolpath.Toolpath) (power, speed float64) {
	st := tp.Stats()
	return st.AvgPower, st.AvgSpeed
}

// Score rates a report: target coverage minus penalties for voxel growth
// beyond nominal and for thermal risk.
func Score(r models.QualityReport, material models.Material) float64 {
	coverage := 1 - r.Stats.UnderExposedFraction
	if r.Stats.Targets == 0 {
		coverage = 0
	}
	var over float64
	if nom := material.NominalFeature; nom > 0 && r.VoxelLateral > nom {
		over = r.VoxelLateral/nom - 1
	}
	var thermal float64
	if r.ThermalRisk {
		thermal = 0.5
	}
	return coverage - 0.5*over - thermal
}
