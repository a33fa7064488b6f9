// Package thermal estimates local heating along a toolpath and flags
// exposures that risk boiling the resist or damaging the substrate.
package thermal

import (
	"math"

	"tplpath/internal/models"
	"tplpath/pkg/spatial"
	"tplpath/pkg/toolpath"
)

// Result holds per-exposure temperature rises, aligned with
// Toolpath.Exposures.
type Result struct {
	// Rise is the heating caused by the exposure itself (K)
	Rise []float64

	// Prior is the residual heat from earlier nearby exposures (K)
	Prior []float64

	// AtRisk lists, ascending, the exposures whose total rise exceeds the
	// damage threshold
	AtRisk []int

	// Max is the largest total rise
	Max float64
}

// Temperature returns the total rise of exposure i.
func (r Result) Temperature(i int) float64 {
	return r.Rise[i] + r.Prior[i]
}

// rise is the heating of one exposure: absorption × pulse energy ×
// repetition rate × dwell, with dwell the time the beam spends on one
// waist of path.
func rise(mv toolpath.Move, laser models.Laser, consts models.ThermalConstants) float64 {
	if mv.Speed <= 0 {
		return math.Inf(1)
	}
	dwell := laser.WaistLateral / mv.Speed
	avg := mv.Power
	if laser.RepetitionRate > 0 {
		avg = laser.PulseEnergy(mv.Power) * laser.RepetitionRate
	}
	return consts.Absorption * avg * dwell
}

// Analyze walks the exposures in execution order. Earlier exposures within
// consts.Radius add their rise decayed by exp(−Δt/τ), with Δt the time
// from the end of the earlier exposure to the start of the current one.
func Analyze(tp *toolpath.Toolpath, laser models.Laser, consts models.ThermalConstants) Result {
	moves := tp.Exposures()
	starts := tp.ExposureTimeline()
	res := Result{
		Rise:  make([]float64, len(moves)),
		Prior: make([]float64, len(moves)),
	}
	segs := make([]spatial.Segment, len(moves))
	for i, mv := range moves {
		segs[i] = spatial.Segment{A: mv.From, B: mv.To}
		res.Rise[i] = rise(mv, laser, consts)
	}
	piece := consts.Radius
	if piece <= 0 {
		piece = laser.WaistLateral
	}
	s := spatial.NewIndex(segs, piece, 1).Searcher()

	for i, mv := range moves {
		if consts.Radius > 0 && consts.RelaxationTime > 0 {
			for _, j := range s.NearSegment(mv.From, mv.To, consts.Radius) {
				if j >= i {
					break
				}
				if spatial.SegmentDistance(mv.From, mv.To, moves[j].From, moves[j].To) > consts.Radius {
					continue
				}
				dt := starts[i] - (starts[j] + moves[j].Duration())
				if dt < 0 {
					dt = 0
				}
				res.Prior[i] += res.Rise[j] * math.Exp(-dt/consts.RelaxationTime)
			}
		}
		t := res.Temperature(i)
		if t > res.Max {
			res.Max = t
		}
		if t > consts.DamageThreshold {
			res.AtRisk = append(res.AtRisk, i)
		}
	}
	return res
}

// Annotate returns the indices, into Toolpath.Exposures, of the exposures
// at risk of thermal damage. The toolpath is not modified.
func Annotate(tp *toolpath.Toolpath, laser models.Laser, consts models.ThermalConstants) []int {
	return Analyze(tp, laser, consts).AtRisk
}

// SuggestDelay returns the pause before exposure i that lets the residual
// heat decay far enough to stay below the damage threshold. It is zero for
// safe exposures and +Inf when the exposure alone exceeds the threshold.
func (r Result) SuggestDelay(i int, consts models.ThermalConstants) float64 {
	if r.Temperature(i) <= consts.DamageThreshold {
		return 0
	}
	headroom := consts.DamageThreshold - r.Rise[i]
	if headroom <= 0 || r.Prior[i] <= 0 {
		return math.Inf(1)
	}
	return consts.RelaxationTime * math.Log(r.Prior[i]/headroom)
}

// SuggestSpeed returns a scan speed for exposure i, currently written at
// speed, that keeps it below the damage threshold. Both the exposure's own
// rise and its neighbours' scale with dwell, so the speed scales with the
// excess ratio.
func (r Result) SuggestSpeed(i int, speed float64, consts models.ThermalConstants) float64 {
	t := r.Temperature(i)
	if t <= consts.DamageThreshold || consts.DamageThreshold <= 0 {
		return speed
	}
	return speed * t / consts.DamageThreshold
}
