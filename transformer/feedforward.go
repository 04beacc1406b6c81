package transformer

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// FeedForward is the position-wise block: normalize, expand by mult with a
// GELU, project back. Both linears carry biases.
type FeedForward struct {
	Norm    *RMSNorm
	W1, B1  *mat.Dense // (hidden x dim), (hidden x 1)
	W2, B2  *mat.Dense // (dim x hidden), (dim x 1)
	Dropout float64
}

func NewFeedForward(dim, mult int, dropout float64, src rand.Source) *FeedForward {
	hidden := dim * mult
	return &FeedForward{
		Norm:    NewRMSNorm(dim),
		W1:      mat.NewDense(hidden, dim, utils.RandomArray(hidden*dim, float64(dim), src)),
		B1:      mat.NewDense(hidden, 1, nil),
		W2:      mat.NewDense(dim, hidden, utils.RandomArray(dim*hidden, float64(hidden), src)),
		B2:      mat.NewDense(dim, 1, nil),
		Dropout: dropout,
	}
}

func (f *FeedForward) Forward(x *mat.Dense) *mat.Dense {
	h := utils.AddBias(utils.ToDense(utils.Dot(f.W1, f.Norm.Forward(x))), f.B1)
	h = utils.ToDense(utils.Apply(utils.GeluApply, h))
	return utils.AddBias(utils.ToDense(utils.Dot(f.W2, h)), f.B2)
}
