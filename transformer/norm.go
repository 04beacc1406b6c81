package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// RMSNorm rescales each column to unit RMS before a learned per-channel gain.
type RMSNorm struct {
	Dim   int
	Eps   float64
	Scale float64
	G     *mat.Dense // (dim x 1)
}

func NewRMSNorm(dim int) *RMSNorm {
	return &RMSNorm{
		Dim:   dim,
		Eps:   1e-8,
		Scale: 1.0 / math.Sqrt(float64(dim)),
		G:     utils.OnesLike(mat.NewDense(dim, 1, nil)),
	}
}

func (n *RMSNorm) Forward(x *mat.Dense) *mat.Dense {
	d, T := x.Dims()
	out := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		ss := 0.0
		for i := 0; i < d; i++ {
			v := x.At(i, t)
			ss += v * v
		}
		norm := math.Sqrt(ss) * n.Scale
		if norm < n.Eps {
			norm = n.Eps
		}
		inv := 1.0 / norm
		for i := 0; i < d; i++ {
			out.Set(i, t, x.At(i, t)*inv*n.G.At(i, 0))
		}
	}
	return out
}

// LayerNorm normalises each column to zero mean and unit variance with a
// learned affine. Used by the patch embedders.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)
}

func NewLayerNorm(d int) *LayerNorm {
	return &LayerNorm{
		D:     d,
		Eps:   1e-5,
		Gamma: utils.OnesLike(mat.NewDense(d, 1, nil)),
		Beta:  mat.NewDense(d, 1, nil),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	out := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		mu := 0.0
		for i := 0; i < d; i++ {
			mu += X.At(i, t)
		}
		mu /= float64(d)
		var v float64
		for i := 0; i < d; i++ {
			diff := X.At(i, t) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		for i := 0; i < d; i++ {
			n := (X.At(i, t) - mu) * istd
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	return out
}
