package jobs

// Grid is the extent of the full spatial domain.
type Grid struct {
	NX int `json:"nx" yaml:"nx"`
	NY int `json:"ny" yaml:"ny"`
}

// Region selects a strided sub-rectangle of the grid. Upper bounds are
// exclusive. A zero or negative upper bound means "to the edge of the grid".
type Region struct {
	X0      int `json:"x0" yaml:"x0"`
	X1      int `json:"x1" yaml:"x1"`
	XStride int `json:"x_stride" yaml:"x_stride"`
	Y0      int `json:"y0" yaml:"y0"`
	Y1      int `json:"y1" yaml:"y1"`
	YStride int `json:"y_stride" yaml:"y_stride"`
}

// Clamp repairs out-of-range bounds instead of rejecting them. Upper bounds
// outside (0, dim] snap to the grid edge, negative lower bounds snap to zero, a
// lower bound above its upper bound snaps down to it, and strides below one
// become one. The result satisfies 0 <= start <= end <= dim.
func (r Region) Clamp(g Grid) Region {
	r.X0, r.X1 = clampAxis(r.X0, r.X1, g.NX)
	r.Y0, r.Y1 = clampAxis(r.Y0, r.Y1, g.NY)
	if r.XStride < 1 {
		r.XStride = 1
	}
	if r.YStride < 1 {
		r.YStride = 1
	}
	return r
}

func clampAxis(lo, hi, dim int) (int, int) {
	if dim < 0 {
		dim = 0
	}
	if hi <= 0 || hi > dim {
		hi = dim
	}
	if lo < 0 {
		lo = 0
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}
