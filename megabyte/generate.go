package megabyte

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Karinza38/BlaGPT/utils"
)

// Generate samples full-length sequences autoregressively. prime seeds the
// batch (nil means batchSize fresh sequences started from nothing); each
// step keeps the top (1-filterThres) fraction of the vocabulary and samples
// from it with Gumbel noise at the given temperature. The result is shaped
// into the configured per-stage dims.
func (m *Model) Generate(prime [][]int, filterThres, temperature float64, batchSize int) (*Nested, error) {
	if filterThres <= 0 || filterThres > 1 {
		return nil, fmt.Errorf("megabyte: filter threshold %v outside (0, 1]", filterThres)
	}
	if temperature <= 0 {
		return nil, fmt.Errorf("megabyte: temperature %v must be positive", temperature)
	}
	if prime == nil {
		if batchSize < 1 {
			return nil, fmt.Errorf("megabyte: batch size %d must be positive", batchSize)
		}
		prime = make([][]int, batchSize)
		for b := range prime {
			prime[b] = []int{}
		}
	}
	for b := range prime {
		if len(prime[b]) != len(prime[0]) {
			return nil, fmt.Errorf("megabyte: ragged prime (row 0 has %d tokens, row %d has %d)", len(prime[0]), b, len(prime[b]))
		}
	}

	total := m.cfg.TotalSeqLen()
	if len(prime[0]) > total {
		return nil, fmt.Errorf("megabyte: prime length %d exceeds model length %d", len(prime[0]), total)
	}

	seqs := make([][]int, len(prime))
	for b := range prime {
		seqs[b] = append([]int(nil), prime[b]...)
	}

	gumbel := distuv.GumbelRight{Mu: 0, Beta: 1, Src: m.src}
	for len(seqs[0]) < total {
		lg, err := m.Forward(seqs)
		if err != nil {
			return nil, err
		}
		for b := range seqs {
			lastCol := utils.LastCol(lg.Seqs[b])
			last := make([]float64, m.cfg.NumTokens)
			for i := range last {
				last[i] = lastCol.At(i, 0)
			}
			topKFilter(last, filterThres)
			seqs[b] = append(seqs[b], gumbelSample(last, temperature, gumbel))
		}
		if len(seqs[0])%64 == 0 {
			utils.Debugf("generate: %d/%d tokens", len(seqs[0]), total)
		}
	}

	out := &Nested{
		Batch: len(seqs),
		Dims:  append([]int(nil), m.cfg.MaxSeqLens...),
		Data:  make([]int, 0, len(seqs)*total),
	}
	for b := range seqs {
		out.Data = append(out.Data, seqs[b]...)
	}
	return out, nil
}

// topKFilter keeps the largest (1-thres) fraction of entries (at least one)
// and sets the rest to -Inf, in place.
func topKFilter(col []float64, thres float64) {
	k := int((1 - thres) * float64(len(col)))
	if k < 1 {
		k = 1
	}
	if k >= len(col) {
		return
	}
	sorted := append([]float64(nil), col...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	kth := sorted[k-1]
	kept := 0
	for i, v := range col {
		if v >= kth && kept < k {
			kept++
			continue
		}
		col[i] = math.Inf(-1)
	}
}

// gumbelSample draws argmax(logit/temperature + g) with g ~ Gumbel(0, 1).
func gumbelSample(col []float64, temperature float64, g distuv.GumbelRight) int {
	best := 0
	bestVal := math.Inf(-1)
	for i, v := range col {
		if math.IsInf(v, -1) {
			continue
		}
		score := v/temperature + g.Rand()
		if score > bestVal {
			bestVal = score
			best = i
		}
	}
	return best
}
