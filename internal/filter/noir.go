package filter

import (
	"image"
	"math"
)

// NoirEffect renders frames in monochrome with a strong contrast curve.
type NoirEffect struct {
	curve [256]uint8
}

// NewNoir builds the noir effect. The tone curve is computed once and shared.
func NewNoir() *NoirEffect {
	n := &NoirEffect{}
	for i := range n.curve {
		n.curve[i] = noirTone(float64(i) / 255)
	}
	return n
}

// noirTone maps a normalised luma to the output level: a logistic S-curve
// rescaled so that 0 and 1 stay fixed.
func noirTone(x float64) uint8 {
	const k = 6.0
	s := func(v float64) float64 { return 1 / (1 + math.Exp(-k*(v-0.5))) }
	lo, hi := s(0), s(1)
	y := (s(x) - lo) / (hi - lo)
	return uint8(math.Round(y * 255))
}

// Apply returns a new image holding the noir rendition of src.
func (n *NoirEffect) Apply(src *image.RGBA) (*image.RGBA, error) {
	if src == nil {
		return nil, ErrEmptyFrame
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, ErrEmptyFrame
	}

	dst := image.NewRGBA(b)
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			r := uint32(src.Pix[si])
			g := uint32(src.Pix[si+1])
			bl := uint32(src.Pix[si+2])
			// Rec. 709 luma in 16.16 fixed point.
			l := (13933*r + 46871*g + 4732*bl) >> 16
			v := n.curve[l]
			dst.Pix[di] = v
			dst.Pix[di+1] = v
			dst.Pix[di+2] = v
			dst.Pix[di+3] = src.Pix[si+3]
			si += 4
			di += 4
		}
	}
	return dst, nil
}
