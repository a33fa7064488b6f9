package models

// Laser describes the focused femtosecond beam
type Laser struct {
	// WaistLateral is the 1/e² beam waist radius in the focal plane (µm)
	WaistLateral float64 `yaml:"waistLateral" json:"waistLateral"`

	// WaistAxial is the 1/e² half-length of the focal volume along z (µm)
	WaistAxial float64 `yaml:"waistAxial" json:"waistAxial"`

	// Wavelength in nm
	Wavelength float64 `yaml:"wavelength" json:"wavelength"`

	// RepetitionRate is the pulse rate in Hz
	RepetitionRate float64 `yaml:"repetitionRate" json:"repetitionRate"`

	// PulseDuration in s
	PulseDuration float64 `yaml:"pulseDuration" json:"pulseDuration"`

	// MaxPower is the safe maximum average power in mW
	MaxPower float64 `yaml:"maxPower" json:"maxPower"`
}

// PulseEnergy returns the energy of one pulse in mJ at average power p (mW).
func (l Laser) PulseEnergy(p float64) float64 {
	if l.RepetitionRate <= 0 {
		return 0
	}
	return p / l.RepetitionRate
}

// DefaultLaser matches a 780 nm, 100 fs, 80 MHz oscillator behind a
// 1.4 NA objective.
func DefaultLaser() Laser {
	return Laser{
		WaistLateral:   0.4,
		WaistAxial:     1.2,
		Wavelength:     780,
		RepetitionRate: 80e6,
		PulseDuration:  100e-15,
		MaxPower:       100,
	}
}

// Material holds the photoresist response constants
type Material struct {
	// Beta scales dose into the conversion exponent
	Beta float64 `yaml:"beta" json:"beta"`

	// Gamma is the dose exponent of the saturating conversion curve
	Gamma float64 `yaml:"gamma" json:"gamma"`

	// Threshold is the conversion degree at which resist is polymerized
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// NominalFeature is the intended line width in µm
	NominalFeature float64 `yaml:"nominalFeature" json:"nominalFeature"`

	// OverTolerance is the allowed relative excess of voxel width over
	// NominalFeature before over-exposure is flagged
	OverTolerance float64 `yaml:"overTolerance" json:"overTolerance"`
}

func DefaultMaterial() Material {
	return Material{
		Beta:           500,
		Gamma:          1,
		Threshold:      0.5,
		NominalFeature: 0.5,
		OverTolerance:  1.0,
	}
}

// ThermalConstants holds the heating model parameters
type ThermalConstants struct {
	// Absorption converts absorbed energy (mW·s) into temperature rise (K)
	Absorption float64 `yaml:"absorption" json:"absorption"`

	// RelaxationTime is the exponential cooling time constant in s
	RelaxationTime float64 `yaml:"relaxationTime" json:"relaxationTime"`

	// DamageThreshold is the temperature rise in K above which the resist
	// boils or the substrate is damaged
	DamageThreshold float64 `yaml:"damageThreshold" json:"damageThreshold"`

	// Radius is the distance within which earlier exposures still heat a
	// segment (µm)
	Radius float64 `yaml:"radius" json:"radius"`
}

func DefaultThermal() ThermalConstants {
	return ThermalConstants{
		Absorption:      1e5,
		RelaxationTime:  1e-3,
		DamageThreshold: 100,
		Radius:          1.0,
	}
}
