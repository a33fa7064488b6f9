package models

import (
	"fmt"
	"strings"
)

// FillPattern selects how a layer's area is covered with scan segments
type FillPattern string

const (
	Rectilinear FillPattern = "rectilinear"
	Concentric  FillPattern = "concentric"
	Spiral      FillPattern = "spiral"
)

// ParseFillPattern converts a config or flag value into a FillPattern.
func ParseFillPattern(s string) (FillPattern, error) {
	switch p := FillPattern(strings.ToLower(strings.TrimSpace(s))); p {
	case Rectilinear, Concentric, Spiral:
		return p, nil
	case "":
		return Rectilinear, nil
	default:
		return "", fmt.Errorf("unknown fill pattern %q: expected rectilinear, concentric or spiral", s)
	}
}

// ScanSegment is the atomic writable unit: one straight exposure inside a
// single layer.
type ScanSegment struct {
	// Start and End are the endpoints in the layer plane
	Start, End Vec2

	// Z is the writing height of the owning layer
	Z float64

	// Layer is the index of the owning layer
	Layer int

	// Power is the laser power in mW; zero until stamped by the sequencer
	Power float64

	// Speed is the scan speed in µm/s; zero until stamped by the sequencer
	Speed float64

	// Chain groups segments that are written back to back (bidirectional
	// hatch, concentric ring, spiral). Zero means stand-alone.
	Chain int

	// Fixed forbids reversing the scan direction
	Fixed bool

	// Region names the override region the segment was assigned to
	Region string
}

// Length returns the exposed length in µm.
func (s ScanSegment) Length() float64 {
	return s.Start.Dist(s.End)
}

// Midpoint returns the segment centre in stage coordinates.
func (s ScanSegment) Midpoint() Vec3 {
	return s.Start.Lerp(s.End, 0.5).At(s.Z)
}

// Reversed returns the segment scanned in the opposite direction.
func (s ScanSegment) Reversed() ScanSegment {
	s.Start, s.End = s.End, s.Start
	return s
}

// Override replaces the global power and/or speed. Zero fields inherit.
type Override struct {
	Power float64 `yaml:"power" json:"power"`
	Speed float64 `yaml:"speed" json:"speed"`
}

// RegionOverride applies an Override to every segment whose midpoint falls
// inside Polygon. ZMin/ZMax restrict the override to a height band; both
// zero means every layer.
type RegionOverride struct {
	Name     string   `yaml:"name" json:"name"`
	Polygon  Polygon  `yaml:"polygon" json:"polygon"`
	Override Override `yaml:",inline" json:"override"`
	ZMin     float64  `yaml:"zMin" json:"zMin"`
	ZMax     float64  `yaml:"zMax" json:"zMax"`
}

// AppliesAt reports whether the override covers point p at height z.
func (r RegionOverride) AppliesAt(p Vec2, z float64) bool {
	if (r.ZMin != 0 || r.ZMax != 0) && (z < r.ZMin || z > r.ZMax) {
		return false
	}
	return r.Polygon.Contains(p)
}

// ParameterSet holds the process parameters of one trial. It is a value
// type: copy it to derive a new trial.
type ParameterSet struct {
	// Power is the default laser power in mW
	Power float64 `yaml:"power" json:"power"`

	// Speed is the default scan speed in µm/s
	Speed float64 `yaml:"speed" json:"speed"`

	// LayerHeight is the slab thickness in µm
	LayerHeight float64 `yaml:"layerHeight" json:"layerHeight"`

	// HatchDistance is the spacing between neighbouring scan lines in µm
	HatchDistance float64 `yaml:"hatchDistance" json:"hatchDistance"`

	// FillPattern selects the layer fill strategy
	FillPattern FillPattern `yaml:"fillPattern" json:"fillPattern"`

	// CrossHatch rotates rectilinear lines by 90° on every other layer
	CrossHatch bool `yaml:"crossHatch" json:"crossHatch"`

	// Bidirectional reverses every other rectilinear line
	Bidirectional bool `yaml:"bidirectional" json:"bidirectional"`

	// FirstLayer overrides power/speed on layer 0 for substrate adhesion
	FirstLayer *Override `yaml:"firstLayer,omitempty" json:"firstLayer,omitempty"`

	// Regions are named areas with their own power/speed
	Regions []RegionOverride `yaml:"regions,omitempty" json:"regions,omitempty"`
}

// Clone returns a deep copy so trials never share override tables.
func (p ParameterSet) Clone() ParameterSet {
	if p.FirstLayer != nil {
		fl := *p.FirstLayer
		p.FirstLayer = &fl
	}
	if p.Regions != nil {
		regions := make([]RegionOverride, len(p.Regions))
		for i, r := range p.Regions {
			r.Polygon = r.Polygon.Clone()
			regions[i] = r
		}
		p.Regions = regions
	}
	return p
}

// Validate checks the parameter ranges that every stage relies on.
func (p ParameterSet) Validate() error {
	if p.Power < 0 {
		return fmt.Errorf("power cannot be negative, got %g mW", p.Power)
	}
	if p.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %g µm/s", p.Speed)
	}
	if p.LayerHeight <= 0 {
		return fmt.Errorf("layer height must be positive, got %g µm", p.LayerHeight)
	}
	if p.HatchDistance <= 0 {
		return fmt.Errorf("hatch distance must be positive, got %g µm", p.HatchDistance)
	}
	if _, err := ParseFillPattern(string(p.FillPattern)); err != nil {
		return err
	}
	return nil
}

// String is used in logs and error context.
func (p ParameterSet) String() string {
	return fmt.Sprintf("power=%.3gmW speed=%.6gµm/s layer=%.3gµm hatch=%.3gµm fill=%s",
		p.Power, p.Speed, p.LayerHeight, p.HatchDistance, p.FillPattern)
}
