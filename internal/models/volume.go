package models

// Volume is a regular 3D grid of scalar samples, stored as a 1D array in
// row-major order (x fastest, then y, then z).
type Volume struct {
	// Data holds Width·Height·Depth samples
	Data []float64

	// Width, Height and Depth are the sample counts along x, y and z
	Width, Height, Depth int

	// Origin is the stage position of sample (0, 0, 0)
	Origin Vec3

	// Spacing is the distance between neighbouring samples along each axis
	Spacing Vec3
}

// NewVolume allocates a zeroed grid.
func NewVolume(w, h, d int, origin, spacing Vec3) *Volume {
	return &Volume{
		Data:    make([]float64, w*h*d),
		Width:   w,
		Height:  h,
		Depth:   d,
		Origin:  origin,
		Spacing: spacing,
	}
}

// Index returns the offset of sample (i, j, k) in Data.
func (v *Volume) Index(i, j, k int) int {
	return (k*v.Height+j)*v.Width + i
}

// At returns sample (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Point returns the stage position of sample (i, j, k).
func (v *Volume) Point(i, j, k int) Vec3 {
	return Vec3{
		X: v.Origin.X + float64(i)*v.Spacing.X,
		Y: v.Origin.Y + float64(j)*v.Spacing.Y,
		Z: v.Origin.Z + float64(k)*v.Spacing.Z,
	}
}
