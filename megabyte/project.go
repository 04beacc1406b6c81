package megabyte

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// projector expands one stage's attended positions into conditioning windows
// for the next, finer stage: each kept position is linearly mapped to
// nextDim*nextLen values and reshaped into one (nextDim x nextLen) window.
type projector struct {
	W *mat.Dense // (nextDim*nextLen x dim)
	B *mat.Dense

	nextDim int
	nextLen int
}

func newProjector(dim, nextDim, nextLen int, src rand.Source) *projector {
	rows := nextDim * nextLen
	return &projector{
		W:       mat.NewDense(rows, dim, utils.RandomArray(rows*dim, float64(dim), src)),
		B:       mat.NewDense(rows, 1, nil),
		nextDim: nextDim,
		nextLen: nextLen,
	}
}

// apply projects every window. When dropLast is set the final position of
// each window is discarded first: the conditioning for fine window w must
// come from the coarse output that has seen only positions before w, so the
// start-token output is kept and the last output (which has seen the whole
// window) is not. The empty-input path projects its single start position
// as-is. New windows come out coarse-position-major: window w, position p
// maps to output index w*(L)+p.
func (p *projector) apply(windows []*mat.Dense, dropLast bool) []*mat.Dense {
	if len(windows) == 0 {
		return nil
	}
	dim, width := windows[0].Dims()
	keep := width
	if dropLast {
		keep = width - 1
	}

	out := make([]*mat.Dense, 0, len(windows)*keep)
	var proj mat.Dense
	for _, win := range windows {
		kept := win.Slice(0, dim, 0, keep)
		proj.Mul(p.W, kept) // (nextDim*nextLen x keep)
		full := utils.AddBias(utils.ToDense(&proj), p.B)
		for j := 0; j < keep; j++ {
			next := mat.NewDense(p.nextDim, p.nextLen, nil)
			for n := 0; n < p.nextLen; n++ {
				for i := 0; i < p.nextDim; i++ {
					next.Set(i, n, full.At(n*p.nextDim+i, j))
				}
			}
			out = append(out, next)
		}
	}
	return out
}
