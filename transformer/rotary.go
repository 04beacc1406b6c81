package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Rotary precomputes the inverse-frequency schedule for rotary position
// encoding over a head dimension. Angles are rebuilt per sequence length and
// shared by every layer of a stack call.
type Rotary struct {
	Dim     int
	InvFreq []float64
}

func NewRotary(dim int) *Rotary {
	if dim%2 != 0 {
		panic("rotary: dim must be even")
	}
	const theta = 10000.0
	half := dim / 2
	inv := make([]float64, half)
	for i := 0; i < half; i++ {
		inv[i] = 1.0 / math.Pow(theta, float64(2*i)/float64(dim))
	}
	return &Rotary{Dim: dim, InvFreq: inv}
}

// Angles returns (dim x T): row i at column t holds t * invFreq[i%half], the
// frequency table duplicated across both halves of the head dimension.
func (r *Rotary) Angles(seqLen int) *mat.Dense {
	half := r.Dim / 2
	out := mat.NewDense(r.Dim, seqLen, nil)
	for i := 0; i < half; i++ {
		for t := 0; t < seqLen; t++ {
			a := float64(t) * r.InvFreq[i]
			out.Set(i, t, a)
			out.Set(i+half, t, a)
		}
	}
	return out
}

// ApplyRotary rotates x (dim x T) by the position-dependent angles:
// x*cos + rotateHalf(x)*sin.
func ApplyRotary(angles, x *mat.Dense) *mat.Dense {
	d, T := x.Dims()
	half := d / 2
	out := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		for i := 0; i < d; i++ {
			a := angles.At(i, t)
			var rot float64
			if i < half {
				rot = -x.At(i+half, t)
			} else {
				rot = x.At(i-half, t)
			}
			out.Set(i, t, x.At(i, t)*math.Cos(a)+rot*math.Sin(a))
		}
	}
	return out
}
