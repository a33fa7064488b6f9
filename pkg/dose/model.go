// Package dose predicts the polymerization produced by a toolpath. Every
// exposing move deposits a two-photon dose proportional to the square of
// the focal intensity, integrated over the dwell time of the beam.
package dose

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"tplpath/internal/models"
	"tplpath/pkg/fault"
	"tplpath/pkg/mesh"
	"tplpath/pkg/spatial"
	"tplpath/pkg/toolpath"
)

// DefaultRadiusFactor sets the interaction radius in beam waists
const DefaultRadiusFactor = 2.0

// Options controls the evaluation grid and what the report is judged
// against
type Options struct {
	// RadiusFactor scales the lateral and axial waists into the interaction
	// radius beyond which a segment contributes exactly zero
	RadiusFactor float64

	// LateralStep is the grid spacing in x and y; zero selects half the
	// lateral waist
	LateralStep float64

	// AxialStep is the grid spacing in z; zero selects half the layer
	// height, or a quarter of the axial waist without one
	AxialStep float64

	// LayerHeight is the trial's layer height
	LayerHeight float64

	// HatchDistance is the trial's line spacing, used for line merging
	HatchDistance float64

	// Target is the intended solid. Without it the target is the footprint
	// of the exposed lines.
	Target *mesh.Mesh

	// KeepSamples stores every grid point in the report
	KeepSamples bool

	// NumCores bounds the z-planes evaluated concurrently
	NumCores int

	Logger *zap.Logger
}

func (o Options) withDefaults(l models.Laser) Options {
	if o.RadiusFactor <= 0 {
		o.RadiusFactor = DefaultRadiusFactor
	}
	if o.LateralStep <= 0 {
		o.LateralStep = l.WaistLateral / 2
	}
	if o.AxialStep <= 0 {
		if o.LayerHeight > 0 {
			o.AxialStep = o.LayerHeight / 2
		} else {
			o.AxialStep = l.WaistAxial / 4
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conversion maps an accumulated dose to the degree of conversion
// 1 − exp(−β·dose^γ).
func Conversion(dose float64, m models.Material) float64 {
	if dose <= 0 {
		return 0
	}
	return 1 - math.Exp(-m.Beta*math.Pow(dose, m.Gamma))
}

// ThresholdDose is the dose at which conversion reaches the material
// threshold.
func ThresholdDose(m models.Material) float64 {
	if m.Threshold <= 0 {
		return 0
	}
	if m.Threshold >= 1 || m.Beta <= 0 || m.Gamma <= 0 {
		return math.Inf(1)
	}
	return math.Pow(-math.Log(1-m.Threshold)/m.Beta, 1/m.Gamma)
}

// PeakDose is the on-axis dose of a single line written at power p (mW)
// and speed v (µm/s): P²·w/v.
func PeakDose(l models.Laser, p, v float64) float64 {
	return p * p * l.WaistLateral / v
}

// Model holds a toolpath's exposing moves in a spatial index and answers
// point dose queries.
type Model struct {
	laser    models.Laser
	material models.Material
	moves    []toolpath.Move
	index    *spatial.Index
	rl, ra   float64
}

// NewModel validates the exposing moves and indexes them.
func NewModel(tp *toolpath.Toolpath, laser models.Laser, material models.Material, opts Options) (*Model, error) {
	opts = opts.withDefaults(laser)
	if laser.WaistLateral <= 0 || laser.WaistAxial <= 0 {
		return nil, fmt.Errorf("beam waists must be positive, got %g and %g", laser.WaistLateral, laser.WaistAxial)
	}
	m := &Model{
		laser:    laser,
		material: material,
		moves:    tp.Exposures(),
		rl:       opts.RadiusFactor * laser.WaistLateral,
		ra:       opts.RadiusFactor * laser.WaistAxial,
	}
	segs := make([]spatial.Segment, len(m.moves))
	for i, mv := range m.moves {
		if !(mv.Speed > 0) || math.IsInf(mv.Speed, 0) {
			return nil, &fault.ModelAssumptionError{
				Invariant: "positive finite scan speed",
				Detail:    fmt.Sprintf("exposure %d (layer %d) has speed %g", i, mv.Layer, mv.Speed),
			}
		}
		if mv.Power < 0 || math.IsNaN(mv.Power) || math.IsInf(mv.Power, 0) {
			return nil, &fault.ModelAssumptionError{
				Invariant: "non-negative finite power",
				Detail:    fmt.Sprintf("exposure %d (layer %d) has power %g", i, mv.Layer, mv.Power),
			}
		}
		segs[i] = spatial.Segment{A: mv.From, B: mv.To}
	}
	m.index = spatial.NewIndex(segs, laser.WaistLateral, m.rl/m.ra)
	return m, nil
}

// Radius returns the lateral and axial interaction radii.
func (m *Model) Radius() (lateral, axial float64) { return m.rl, m.ra }

// Len returns the number of exposing moves.
func (m *Model) Len() int { return len(m.moves) }

// Contribution is the dose one exposing move deposits at p. It is exactly
// zero outside the interaction ellipsoid.
func (m *Model) Contribution(mv toolpath.Move, p models.Vec3) float64 {
	t := spatial.ClosestOnSegment(p, mv.From, mv.To)
	c := mv.From.Add(mv.To.Sub(mv.From).Scale(t))
	d := p.Sub(c)
	r2 := d.X*d.X + d.Y*d.Y
	dz2 := d.Z * d.Z
	if r2/(m.rl*m.rl)+dz2/(m.ra*m.ra) > 1 {
		return 0
	}
	w, wz := m.laser.WaistLateral, m.laser.WaistAxial
	dwell := w / mv.Speed
	return mv.Power * mv.Power * math.Exp(-4*r2/(w*w)) * math.Exp(-4*dz2/(wz*wz)) * dwell
}

// Dose returns the accumulated dose at p.
func (m *Model) Dose(p models.Vec3) float64 {
	return m.dose(p, m.index.Searcher())
}

func (m *Model) dose(p models.Vec3, s *spatial.Searcher) float64 {
	var sum float64
	for _, i := range s.Near(p, m.rl) {
		sum += m.Contribution(m.moves[i], p)
	}
	return sum
}

// VoxelSize returns the full lateral and axial extent of the polymerized
// region around a single isolated line at power p and speed v. Both are
// zero when the peak dose stays below threshold.
func VoxelSize(l models.Laser, mat models.Material, p, v float64, radiusFactor float64) (lateral, axial float64) {
	if radiusFactor <= 0 {
		radiusFactor = DefaultRadiusFactor
	}
	if v <= 0 {
		return 0, 0
	}
	peak := PeakDose(l, p, v)
	th := ThresholdDose(mat)
	if peak <= 0 || peak < th {
		return 0, 0
	}
	k := math.Sqrt(math.Log(peak / th))
	lateral = math.Min(l.WaistLateral*k, 2*radiusFactor*l.WaistLateral)
	axial = math.Min(l.WaistAxial*k, 2*radiusFactor*l.WaistAxial)
	return lateral, axial
}

// LinesMerged reports whether two parallel lines d apart polymerize the
// gap between them: the conversion at the midpoint reaches threshold.
func LinesMerged(l models.Laser, mat models.Material, p, v, d float64, radiusFactor float64) bool {
	if radiusFactor <= 0 {
		radiusFactor = DefaultRadiusFactor
	}
	if v <= 0 || d <= 0 {
		return false
	}
	half := d / 2
	if half > radiusFactor*l.WaistLateral {
		return false
	}
	w := l.WaistLateral
	mid := 2 * PeakDose(l, p, v) * math.Exp(-4*half*half/(w*w))
	return Conversion(mid, mat) >= mat.Threshold
}
