package megabyte

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/transformer"
	"github.com/Karinza38/BlaGPT/utils"
)

// fineEmbedder is the patch-level lookup: one (fineDim x vocab) table,
// columns indexed by raw id.
type fineEmbedder struct {
	Table *mat.Dense
}

func newFineEmbedder(vocab, fineDim int, src rand.Source) *fineEmbedder {
	return &fineEmbedder{
		Table: mat.NewDense(fineDim, vocab, utils.RandomArray(fineDim*vocab, float64(fineDim), src)),
	}
}

// patchEmbedder collapses one coarse position's patch of raw ids into that
// stage's width: embed each id with the stage's own vocab table, stack the
// patch, normalize, project down, normalize again.
type patchEmbedder struct {
	Table *mat.Dense // (fineDim x vocab)
	Norm1 *transformer.LayerNorm
	W     *mat.Dense // (dim x patch*fineDim)
	B     *mat.Dense
	Norm2 *transformer.LayerNorm

	patch   int
	fineDim int
}

func newPatchEmbedder(vocab, fineDim, patch, dim int, src rand.Source) *patchEmbedder {
	stacked := patch * fineDim
	return &patchEmbedder{
		Table:   mat.NewDense(fineDim, vocab, utils.RandomArray(fineDim*vocab, float64(fineDim), src)),
		Norm1:   transformer.NewLayerNorm(stacked),
		W:       mat.NewDense(dim, stacked, utils.RandomArray(dim*stacked, float64(stacked), src)),
		B:       mat.NewDense(dim, 1, nil),
		Norm2:   transformer.NewLayerNorm(dim),
		patch:   patch,
		fineDim: fineDim,
	}
}

func copyTableCol(dst *mat.Dense, dstRow, dstCol int, table *mat.Dense, id int) {
	r, _ := table.Dims()
	for i := 0; i < r; i++ {
		dst.Set(dstRow+i, dstCol, table.At(i, id))
	}
}

// stageTokens builds every stage's windows from the nested ids, coarsest
// first. Stage s gets one (dim_s x Dims[s]) matrix per (batch x outer)
// grouping; a position of a coarse window covers PatchSize raw ids.
func (m *Model) stageTokens(ids *Nested) [][]*mat.Dense {
	S := len(m.stages)
	out := make([][]*mat.Dense, S)
	for s, st := range m.stages {
		outer := ids.Batch
		for _, d := range ids.Dims[:s] {
			outer *= d
		}
		L := ids.Dims[s]

		wins := make([]*mat.Dense, outer)
		for w := 0; w < outer; w++ {
			var win *mat.Dense
			if s == S-1 {
				win = mat.NewDense(m.fineDim, L, nil)
				for p := 0; p < L; p++ {
					copyTableCol(win, 0, p, st.fine.Table, ids.Data[w*L+p])
				}
			} else {
				win = st.patch.embedWindow(ids, w, L)
			}
			if st.posEmb != nil {
				addPositions(win, st.posEmb)
			}
			wins[w] = win
		}
		out[s] = wins
	}
	return out
}

func (e *patchEmbedder) embedWindow(ids *Nested, w, L int) *mat.Dense {
	stacked := e.patch * e.fineDim
	raw := mat.NewDense(stacked, L, nil)
	for p := 0; p < L; p++ {
		base := (w*L + p) * e.patch
		for r := 0; r < e.patch; r++ {
			copyTableCol(raw, r*e.fineDim, p, e.Table, ids.Data[base+r])
		}
	}
	out := utils.AddBias(utils.ToDense(utils.Dot(e.W, e.Norm1.Forward(raw))), e.B)
	return e.Norm2.Forward(out)
}

// addPositions adds the stage's learned absolute embedding column-wise; the
// window may be shorter than the table at the coarsest stage.
func addPositions(win, posEmb *mat.Dense) {
	d, L := win.Dims()
	for p := 0; p < L; p++ {
		for i := 0; i < d; i++ {
			win.Set(i, p, win.At(i, p)+posEmb.At(i, p))
		}
	}
}
