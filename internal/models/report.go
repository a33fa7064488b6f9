package models

// DoseSample is the accumulated dose at one evaluation point
type DoseSample struct {
	Pos        Vec3    `json:"pos"`
	Dose       float64 `json:"dose"`
	Conversion float64 `json:"conversion"`

	// Target marks points that belong to the intended solid
	Target bool `json:"target"`
}

// ReportStats are the summary statistics behind the report flags
type ReportStats struct {
	// PeakDose is the largest accumulated dose on the grid
	PeakDose float64 `json:"peakDose"`

	// Conversion statistics over target points
	MeanConversion float64 `json:"meanConversion"`
	StdConversion  float64 `json:"stdConversion"`
	MinConversion  float64 `json:"minConversion"`
	P10Conversion  float64 `json:"p10Conversion"`

	// UnderExposedFraction is the share of target points below threshold
	UnderExposedFraction float64 `json:"underExposedFraction"`

	Targets int `json:"targets"`

	// MaxTemperature is the largest predicted temperature rise (K)
	MaxTemperature float64 `json:"maxTemperature"`
}

// QualityReport summarises the predicted print quality of one trial
type QualityReport struct {
	// VoxelLateral and VoxelAxial are the predicted full widths of a single
	// isolated line at the trial's power and speed (µm)
	VoxelLateral float64 `json:"voxelLateral"`
	VoxelAxial   float64 `json:"voxelAxial"`

	UnderExposed bool `json:"underExposed"`
	OverExposed  bool `json:"overExposed"`

	// LinesMerged reports that neighbouring hatch lines fuse at the trial's
	// hatch distance
	LinesMerged bool `json:"linesMerged"`

	ThermalRisk bool `json:"thermalRisk"`

	// AtRisk lists the exposure indices whose temperature rise exceeds the
	// damage threshold
	AtRisk []int `json:"atRisk,omitempty"`

	// Score is a scalar figure of merit, higher is better
	Score float64 `json:"score"`

	Stats ReportStats `json:"stats"`

	// Samples holds the evaluated points; it is dropped from JSON output
	Samples []DoseSample `json:"-"`
}

// Acceptable reports whether no defect flag is raised.
func (r QualityReport) Acceptable() bool {
	return !r.UnderExposed && !r.OverExposed && !r.ThermalRisk
}
