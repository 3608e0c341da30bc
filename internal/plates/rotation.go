package plates

// RotationTransformer maps boxes detected in a rotated copy of a frame back
// into the coordinate space of the original frame. Width and Height are the
// original frame's dimensions.
type RotationTransformer struct {
	Width  int
	Height int
}

// NewRotationTransformer returns a transformer for an original frame of the
// given size.
func NewRotationTransformer(width, height int) *RotationTransformer {
	return &RotationTransformer{Width: width, Height: height}
}

// ToOriginal remaps a box found in a frame rotated by angle degrees into
// original-frame coordinates. Supported angles are 90, -90 and 180; any
// other angle returns the box unchanged. Remapped coordinates are clamped
// to [0,Width-1] x [0,Height-1].
func (t *RotationTransformer) ToOriginal(b Box, angle int) Box {
	var out Box
	switch angle {
	case 90:
		out = Box{
			X1: b.Y1,
			Y1: t.Width - b.X2,
			X2: b.Y2,
			Y2: t.Width - b.X1,
		}
	case -90:
		out = Box{
			X1: t.Height - b.Y2,
			Y1: b.X1,
			X2: t.Height - b.Y1,
			Y2: b.X2,
		}
	case 180:
		out = Box{
			X1: t.Width - b.X2,
			Y1: t.Height - b.Y2,
			X2: t.Width - b.X1,
			Y2: t.Height - b.Y1,
		}
	default:
		return b
	}
	return t.clamp(out)
}

func (t *RotationTransformer) clamp(b Box) Box {
	b.X1 = clamp(b.X1, 0, t.Width-1)
	b.Y1 = clamp(b.Y1, 0, t.Height-1)
	b.X2 = clamp(b.X2, 0, t.Width-1)
	b.Y2 = clamp(b.Y2, 0, t.Height-1)
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InverseAngle returns the rotation that undoes angle. 90 and -90 invert
// each other; 0 and 180 are their own inverses.
func InverseAngle(angle int) int {
	switch angle {
	case 90:
		return -90
	case -90:
		return 90
	default:
		return angle
	}
}

// RotationAngles is the fixed order in which rotated variants of a frame
// are scanned when rotation mode is enabled. The upright frame always runs
// first so that identity tie-breaking is deterministic.
var RotationAngles = []int{90, -90, 180}
