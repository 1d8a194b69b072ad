package domain

// PointBatch is one frame's worth of 3D points: flat xyz positions and
// matching rgb colors, three float32 values per point. Positions and colors
// always describe the same points, index for index.
type PointBatch struct {
	Positions []float32
	Colors    []float32
}

// NumPoints returns the number of points in the batch.
func (b PointBatch) NumPoints() int {
	return len(b.Positions) / 3
}

// Validate checks the batch invariant: equal-length position and color
// sequences, both multiples of 3, and at least one point. An invalid batch
// must be rejected whole, never partially applied.
func (b PointBatch) Validate() error {
	if len(b.Positions) == 0 && len(b.Colors) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Positions) != len(b.Colors) {
		return ErrBatchLengthMismatch
	}
	if len(b.Positions)%3 != 0 {
		return ErrBatchNotTriples
	}
	return nil
}

// Downsample returns a copy of the batch keeping every stride-th point. The
// same stride is applied to positions and colors so point-index
// correspondence is preserved. A stride of 1 or less copies the batch
// unchanged.
func (b PointBatch) Downsample(stride int) PointBatch {
	if stride <= 1 {
		out := PointBatch{
			Positions: make([]float32, len(b.Positions)),
			Colors:    make([]float32, len(b.Colors)),
		}
		copy(out.Positions, b.Positions)
		copy(out.Colors, b.Colors)
		return out
	}

	n := b.NumPoints()
	kept := (n + stride - 1) / stride
	out := PointBatch{
		Positions: make([]float32, 0, kept*3),
		Colors:    make([]float32, 0, kept*3),
	}
	for i := 0; i < n; i += stride {
		out.Positions = append(out.Positions, b.Positions[i*3:i*3+3]...)
		out.Colors = append(out.Colors, b.Colors[i*3:i*3+3]...)
	}
	return out
}
