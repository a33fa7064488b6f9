// Package toolpath holds the ordered execution sequence handed to the
// stage controller: exposing moves with the shutter open and travel moves
// with it closed.
package toolpath

import (
	"math"

	"tplpath/internal/models"
)

// DefaultTravelSpeed is the stage repositioning speed in µm/s
const DefaultTravelSpeed = 100000

// Kind distinguishes exposing moves from repositioning
type Kind int

const (
	Exposure Kind = iota
	Travel
)

func (k Kind) String() string {
	if k == Travel {
		return "travel"
	}
	return "exposure"
}

// Move is one straight stage motion
type Move struct {
	Kind Kind

	From, To models.Vec3

	// Power is the laser power in mW, zero for travel
	Power float64

	// Speed is the stage speed in µm/s
	Speed float64

	Layer  int
	Chain  int
	Region string
}

// Length returns the distance covered.
func (m Move) Length() float64 {
	return m.From.Dist(m.To)
}

// Duration returns the time the move takes, zero when the speed is not
// positive.
func (m Move) Duration() float64 {
	if m.Speed <= 0 {
		return 0
	}
	return m.Length() / m.Speed
}

// Toolpath is an ordered list of moves. Two exposing moves are adjacent
// only when they share a non-zero chain and the first ends where the second
// starts; Append inserts the travel otherwise.
type Toolpath struct {
	moves       []Move
	travelSpeed float64

	// cached totals, invalidated by every mutation
	valid    bool
	length   float64
	duration float64
}

// New returns an empty toolpath. A non-positive travelSpeed selects
// DefaultTravelSpeed.
func New(travelSpeed float64) *Toolpath {
	if travelSpeed <= 0 {
		travelSpeed = DefaultTravelSpeed
	}
	return &Toolpath{travelSpeed: travelSpeed}
}

// TravelSpeed returns the speed used for inserted travel moves.
func (t *Toolpath) TravelSpeed() float64 { return t.travelSpeed }

// Append adds seg as an exposing move, preceded by a travel when the
// previous move does not continue into it.
func (t *Toolpath) Append(seg models.ScanSegment) {
	start := seg.Start.At(seg.Z)
	if n := len(t.moves); n > 0 {
		last := t.moves[n-1]
		continues := last.Kind == Exposure && last.Chain != 0 && last.Chain == seg.Chain && last.To == start
		if !continues && !(last.Kind == Travel && last.To == start) {
			t.AppendTravel(start)
		}
	}
	t.moves = append(t.moves, Move{
		Kind:   Exposure,
		From:   start,
		To:     seg.End.At(seg.Z),
		Power:  seg.Power,
		Speed:  seg.Speed,
		Layer:  seg.Layer,
		Chain:  seg.Chain,
		Region: seg.Region,
	})
	t.valid = false
}

// AppendTravel moves the stage to p with the shutter closed. It is a no-op
// on an empty toolpath, which starts wherever its first exposure starts.
func (t *Toolpath) AppendTravel(p models.Vec3) {
	n := len(t.moves)
	if n == 0 {
		return
	}
	last := t.moves[n-1]
	t.moves = append(t.moves, Move{
		Kind:  Travel,
		From:  last.To,
		To:    p,
		Speed: t.travelSpeed,
		Layer: last.Layer,
	})
	t.valid = false
}

// Reset removes every move.
func (t *Toolpath) Reset() {
	t.moves = t.moves[:0]
	t.valid = false
}

// Len returns the number of moves including travel.
func (t *Toolpath) Len() int { return len(t.moves) }

// Moves returns a copy of the moves in execution order.
func (t *Toolpath) Moves() []Move {
	return append([]Move(nil), t.moves...)
}

// Exposures returns the exposing moves in execution order. Indices into
// this slice identify segments in thermal and dose reports.
func (t *Toolpath) Exposures() []Move {
	out := make([]Move, 0, len(t.moves))
	for _, m := range t.moves {
		if m.Kind == Exposure {
			out = append(out, m)
		}
	}
	return out
}

func (t *Toolpath) totals() {
	if t.valid {
		return
	}
	t.length, t.duration = 0, 0
	for _, m := range t.moves {
		t.length += m.Length()
		t.duration += m.Duration()
	}
	t.valid = true
}

// Length returns the total distance travelled, exposing and not.
func (t *Toolpath) Length() float64 {
	t.totals()
	return t.length
}

// Duration returns the total execution time in seconds.
func (t *Toolpath) Duration() float64 {
	t.totals()
	return t.duration
}

// Timeline returns the start time of every move.
func (t *Toolpath) Timeline() []float64 {
	ts := make([]float64, len(t.moves))
	var now float64
	for i, m := range t.moves {
		ts[i] = now
		now += m.Duration()
	}
	return ts
}

// ExposureTimeline returns the start time of every exposing move, aligned
// with Exposures.
func (t *Toolpath) ExposureTimeline() []float64 {
	ts := make([]float64, 0, len(t.moves))
	var now float64
	for _, m := range t.moves {
		if m.Kind == Exposure {
			ts = append(ts, now)
		}
		now += m.Duration()
	}
	return ts
}

// Bounds returns the bounding box of the exposing moves. ok is false when
// nothing is exposed.
func (t *Toolpath) Bounds() (min, max models.Vec3, ok bool) {
	min = models.Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = models.Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, m := range t.moves {
		if m.Kind != Exposure {
			continue
		}
		min = min.Min(m.From).Min(m.To)
		max = max.Max(m.From).Max(m.To)
		ok = true
	}
	return min, max, ok
}
