package megabyte

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Nested is a batch of token ids carried with its explicit per-stage shape:
// Dims[0] is the number of coarsest-stage positions (at most the configured
// maximum), every later entry must equal its stage's window length exactly.
// Data is laid out row-major over (batch, Dims...).
type Nested struct {
	Batch int
	Dims  []int
	Data  []int
}

// Numel is the token count across the whole batch.
func (n *Nested) Numel() int {
	total := n.Batch
	for _, d := range n.Dims {
		total *= d
	}
	return total
}

// PerBatch is the token count of one batch element.
func (n *Nested) PerBatch() int {
	total := 1
	for _, d := range n.Dims {
		total *= d
	}
	return total
}

// Logits holds per-batch logit matrices in the (vocab x positions) layout.
type Logits struct {
	Vocab int
	Seqs  []*mat.Dense
}

func (l *Logits) Batch() int { return len(l.Seqs) }

func (l *Logits) Positions() int {
	if len(l.Seqs) == 0 {
		return 0
	}
	_, c := l.Seqs[0].Dims()
	return c
}

func remainderToMult(n, mult int) int {
	return (mult - n%mult) % mult
}

// nestFlat pads a rectangular flat batch up to the patch multiple with the
// pad id and reshapes it into the per-stage dims. Returns the original
// sequence length so callers can trim returned logits back to it.
func (m *Model) nestFlat(ids [][]int) (*Nested, int, error) {
	batch := len(ids)
	if batch == 0 {
		return nil, 0, fmt.Errorf("megabyte: empty batch")
	}
	L := len(ids[0])
	for b, row := range ids {
		if len(row) != L {
			return nil, 0, fmt.Errorf("megabyte: ragged batch (row 0 has %d tokens, row %d has %d)", L, b, len(row))
		}
	}

	mult := m.cfg.PatchMultiple()
	padded := L + remainderToMult(L, mult)
	d0 := padded / mult
	if max0 := m.stages[0].desc.SeqLen; d0 > max0 {
		return nil, 0, fmt.Errorf("megabyte: first nested dimension %d exceeds the configured maximum %d", d0, max0)
	}

	dims := make([]int, 0, len(m.stages))
	dims = append(dims, d0)
	dims = append(dims, m.cfg.MaxSeqLens[1:]...)

	data := make([]int, batch*padded)
	for b, row := range ids {
		off := b * padded
		for i, id := range row {
			if id < 0 || id >= m.cfg.NumTokens {
				return nil, 0, fmt.Errorf("megabyte: token id %d outside vocabulary of %d", id, m.cfg.NumTokens)
			}
			data[off+i] = id
		}
		for i := L; i < padded; i++ {
			data[off+i] = m.cfg.PadID
		}
	}
	return &Nested{Batch: batch, Dims: dims, Data: data}, L, nil
}

// checkNested validates an already-nested input against the hierarchy.
func (m *Model) checkNested(n *Nested) error {
	S := len(m.stages)
	if len(n.Dims) != S {
		return fmt.Errorf("megabyte: input must be nested into %d stage dimensions, got %d", S, len(n.Dims))
	}
	if n.Batch <= 0 {
		return fmt.Errorf("megabyte: batch must be positive, got %d", n.Batch)
	}
	if max0 := m.stages[0].desc.SeqLen; n.Dims[0] > max0 {
		return fmt.Errorf("megabyte: first nested dimension %d exceeds the configured maximum %d", n.Dims[0], max0)
	}
	for i := 1; i < S; i++ {
		if n.Dims[i] != m.cfg.MaxSeqLens[i] {
			return fmt.Errorf("megabyte: nested dimension %d is %d, must equal %d exactly", i, n.Dims[i], m.cfg.MaxSeqLens[i])
		}
	}
	if len(n.Data) != n.Numel() {
		return fmt.Errorf("megabyte: nested data holds %d ids, shape wants %d", len(n.Data), n.Numel())
	}
	for _, id := range n.Data {
		if id < 0 || id >= m.cfg.NumTokens {
			return fmt.Errorf("megabyte: token id %d outside vocabulary of %d", id, m.cfg.NumTokens)
		}
	}
	return nil
}
