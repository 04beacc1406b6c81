package transformer

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// Backend identifies which attention kernel an Attend instance dispatches to.
type Backend int

const (
	// BackendNaive materialises the full (T x T) score matrix and runs an
	// explicit masked row softmax.
	BackendNaive Backend = iota
	// BackendFused streams one query column at a time, never allocating the
	// score matrix. Only available when a cgo BLAS implementation is
	// registered (build with -tags accel).
	BackendFused
)

func (b Backend) String() string {
	if b == BackendFused {
		return "fused"
	}
	return "naive"
}

var backendLogOnce sync.Once

// Attend computes attention over per-head (dHead x T) query/key/value
// matrices with optional causal masking. The backend is chosen once at
// construction and stored; both paths produce numerically equivalent output.
type Attend struct {
	Causal  bool
	Dropout float64 // training-time only; the inference path never applies it
	Backend Backend

	maskCache map[int]*mat.Dense
}

// NewAttend picks the attention backend. Requesting the fused kernel on a
// build without the accel tag is a configuration error.
func NewAttend(causal bool, dropout float64, flash bool) (*Attend, error) {
	if flash && !blasAccelerated {
		return nil, errors.New("transformer: fused attention needs a cgo BLAS backend; rebuild with -tags accel")
	}
	b := BackendNaive
	if flash {
		b = BackendFused
	}
	a := &Attend{
		Causal:    causal,
		Dropout:   dropout,
		Backend:   b,
		maskCache: make(map[int]*mat.Dense),
	}
	backendLogOnce.Do(func() {
		utils.Debugf("attention backend: %s", b)
	})
	return a, nil
}

// Forward attends q over k/v, all (dHead x T). mask, when non-nil, is an
// additive (Tq x Tk) matrix applied to the scores alongside the causal mask.
// The output has the shape of v.
func (a *Attend) Forward(q, k, v, mask *mat.Dense) *mat.Dense {
	if a.Backend == BackendFused {
		return a.fused(q, k, v, mask)
	}
	return a.naive(q, k, v, mask)
}

func (a *Attend) naive(q, k, v, mask *mat.Dense) *mat.Dense {
	dHead, tq := q.Dims()
	_, tk := k.Dims()
	rescale := 1.0 / math.Sqrt(float64(dHead))

	// S = (Q^T K)/sqrt(dHead), (Tq x Tk)
	scores := utils.ToDense(utils.Scale(rescale, utils.Dot(q.T(), k)))

	add := a.scoreMask(tq, tk)
	if mask != nil {
		add = utils.ToDense(utils.Add(add, mask))
	}

	attn := mat.NewDense(tq, tk, nil)
	utils.RowSoftmaxMaskedInPlace(attn, scores, add)

	// O = V * A^T
	out := mat.NewDense(dHead, tq, nil)
	out.Mul(v, attn.T())
	return out
}

// fused walks query columns one at a time: a gemv for the scores, a vector
// softmax, a gemv for the output. Same math as naive without the (T x T)
// intermediate.
func (a *Attend) fused(q, k, v, mask *mat.Dense) *mat.Dense {
	dHead, tq := q.Dims()
	_, tk := k.Dims()
	rescale := 1.0 / math.Sqrt(float64(dHead))

	add := a.scoreMask(tq, tk)
	if mask != nil {
		add = utils.ToDense(utils.Add(add, mask))
	}

	out := mat.NewDense(dHead, tq, nil)
	var s, o mat.Dense
	for j := 0; j < tq; j++ {
		qj := q.Slice(0, dHead, j, j+1)
		s.Mul(k.T(), qj) // (Tk x 1)
		s.Scale(rescale, &s)
		for i := 0; i < tk; i++ {
			s.Set(i, 0, s.At(i, 0)+add.At(j, i))
		}
		p := utils.ColVectorSoftmax(&s)
		o.Mul(v, p) // (dHead x 1)
		for i := 0; i < dHead; i++ {
			out.Set(i, j, o.At(i, 0))
		}
	}
	return out
}

// scoreMask returns the cached additive mask for a (tq x tk) score matrix:
// causal when configured, zeros otherwise.
func (a *Attend) scoreMask(tq, tk int) *mat.Dense {
	if !a.Causal {
		return mat.NewDense(tq, tk, nil)
	}
	if tq != tk {
		panic("attend: causal masking requires square scores")
	}
	m, ok := a.maskCache[tq]
	if !ok {
		m = utils.CausalMask(tq)
		a.maskCache[tq] = m
	}
	return m
}
