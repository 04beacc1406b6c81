package transformer

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// Attention is one causal self-attention layer: RMS-normalized input, per-head
// q/k/v projections, optional rotary rotation of q and k, the Attend kernel,
// and an output projection back to dim. Projections are bias-free.
type Attention struct {
	Heads   int
	DimHead int
	Dim     int

	Norm       *RMSNorm
	Wq, Wk, Wv []*mat.Dense // per head (dimHead x dim)
	Wo         *mat.Dense   // (dim x heads*dimHead)

	Att *Attend
}

func NewAttention(dim, dimHead, heads int, dropout float64, flash bool, src rand.Source) (*Attention, error) {
	att, err := NewAttend(true, dropout, flash)
	if err != nil {
		return nil, err
	}
	a := &Attention{
		Heads:   heads,
		DimHead: dimHead,
		Dim:     dim,
		Norm:    NewRMSNorm(dim),
		Wq:      make([]*mat.Dense, heads),
		Wk:      make([]*mat.Dense, heads),
		Wv:      make([]*mat.Dense, heads),
		Att:     att,
	}
	for h := 0; h < heads; h++ {
		a.Wq[h] = mat.NewDense(dimHead, dim, utils.RandomArray(dimHead*dim, float64(dim), src))
		a.Wk[h] = mat.NewDense(dimHead, dim, utils.RandomArray(dimHead*dim, float64(dim), src))
		a.Wv[h] = mat.NewDense(dimHead, dim, utils.RandomArray(dimHead*dim, float64(dim), src))
	}
	inner := heads * dimHead
	a.Wo = mat.NewDense(dim, inner, utils.RandomArray(dim*inner, float64(inner), src))
	return a, nil
}

// Forward runs x (dim x T) through the layer. angles, when non-nil, is the
// (dimHead x T) rotary table shared by all heads of this call.
func (a *Attention) Forward(x *mat.Dense, angles *mat.Dense) *mat.Dense {
	_, T := x.Dims()
	xn := a.Norm.Forward(x)

	headsCat := mat.NewDense(a.Heads*a.DimHead, T, nil)
	var q, k, v mat.Dense
	for h := 0; h < a.Heads; h++ {
		q.Mul(a.Wq[h], xn)
		k.Mul(a.Wk[h], xn)
		v.Mul(a.Wv[h], xn)

		qh, kh := utils.ToDense(&q), utils.ToDense(&k)
		if angles != nil {
			qh = ApplyRotary(angles, qh)
			kh = ApplyRotary(angles, kh)
		}

		o := a.Att.Forward(qh, kh, utils.ToDense(&v), nil)

		base := h * a.DimHead
		dst := headsCat.Slice(base, base+a.DimHead, 0, T).(*mat.Dense)
		dst.Copy(o)
	}

	out := mat.NewDense(a.Dim, T, nil)
	out.Mul(a.Wo, headsCat)
	return out
}
