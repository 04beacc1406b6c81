package megabyte

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/params"
	"github.com/Karinza38/BlaGPT/transformer"
	"github.com/Karinza38/BlaGPT/utils"
)

// stage bundles everything one hierarchy level owns: its descriptor, start
// token, embedder, transformer stack and (except for the finest stage) the
// projector feeding the next stage.
type stage struct {
	desc   params.Stage
	start  *mat.Dense // (dim x 1)
	posEmb *mat.Dense // (dim x seqLen), nil unless Config.PosEmb
	fine   *fineEmbedder
	patch  *patchEmbedder
	tf     *transformer.Transformer
	proj   *projector
}

// Model is the hierarchical autoregressive model: a coarse-to-fine stack of
// per-stage transformers where each stage's output, projected and shifted,
// conditions the next stage additively.
type Model struct {
	cfg     params.Config
	stages  []*stage
	fineDim int

	logitsW *mat.Dense // (vocab x fineDim)
	logitsB *mat.Dense

	src rand.Source
}

// New builds a model from the config. Every weight is initialised from the
// config seed; stage-list disagreements and an unavailable attention backend
// are construction errors.
func New(cfg params.Config) (*Model, error) {
	descs, err := cfg.Stages()
	if err != nil {
		return nil, err
	}
	utils.Debug = cfg.Debug

	src := rand.NewSource(cfg.Seed)
	S := len(descs)
	fineDim := descs[S-1].Dim

	m := &Model{
		cfg:     cfg,
		stages:  make([]*stage, S),
		fineDim: fineDim,
		logitsW: mat.NewDense(cfg.NumTokens, fineDim, utils.RandomArray(cfg.NumTokens*fineDim, float64(fineDim), src)),
		logitsB: mat.NewDense(cfg.NumTokens, 1, nil),
		src:     src,
	}

	for i, d := range descs {
		st := &stage{
			desc:  d,
			start: mat.NewDense(d.Dim, 1, utils.NormalArray(d.Dim, src)),
		}
		if cfg.PosEmb {
			st.posEmb = mat.NewDense(d.Dim, d.SeqLen, utils.RandomArray(d.Dim*d.SeqLen, float64(d.Dim), src))
		}
		if i == S-1 {
			st.fine = newFineEmbedder(cfg.NumTokens, fineDim, src)
		} else {
			st.patch = newPatchEmbedder(cfg.NumTokens, fineDim, d.PatchSize, d.Dim, src)
		}
		st.tf, err = transformer.New(transformer.StackConfig{
			Dim:         d.Dim,
			Layers:      d.Depth,
			DimHead:     cfg.DimHead,
			Heads:       cfg.Heads,
			AttnDropout: cfg.AttnDropout,
			FFDropout:   cfg.FFDropout,
			FFMult:      cfg.FFMult,
			RelPos:      cfg.RelPos,
			Flash:       cfg.FlashAttn,
		}, src)
		if err != nil {
			return nil, err
		}
		if d.NextDim > 0 {
			st.proj = newProjector(d.Dim, d.NextDim, d.NextSeqLen, src)
		}
		m.stages[i] = st
	}
	return m, nil
}

// Config returns the configuration the model was built from.
func (m *Model) Config() params.Config { return m.cfg }

// Forward runs the model over a flat rectangular batch of ids, consuming the
// sequence as-is (the generation driver feeds its raw running sequence here).
// The returned logits are aligned to input positions: column k predicts the
// token after position k, and padding added for the nested reshape is
// trimmed back off. A zero-length input takes the start-token-only path and
// yields a single first-token prediction column.
func (m *Model) Forward(ids [][]int) (*Logits, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("megabyte: empty batch")
	}
	if len(ids[0]) == 0 {
		for b, row := range ids {
			if len(row) != 0 {
				return nil, fmt.Errorf("megabyte: ragged batch (row 0 has 0 tokens, row %d has %d)", b, len(row))
			}
		}
		return m.forwardEmpty(len(ids)), nil
	}

	nested, origLen, err := m.nestFlat(ids)
	if err != nil {
		return nil, err
	}
	attended, err := m.forwardWindows(nested)
	if err != nil {
		return nil, err
	}
	lg := m.collectLogits(attended, nested, false)
	for b := range lg.Seqs {
		lg.Seqs[b] = utils.ToDense(lg.Seqs[b].Slice(0, m.cfg.NumTokens, 0, origLen))
	}
	return lg, nil
}

// ForwardNested is Forward for inputs already shaped into per-stage dims.
// No padding is involved, so nothing is trimmed.
func (m *Model) ForwardNested(n *Nested) (*Logits, error) {
	if err := m.checkNested(n); err != nil {
		return nil, err
	}
	if n.Numel() == 0 {
		return m.forwardEmpty(n.Batch), nil
	}
	attended, err := m.forwardWindows(n)
	if err != nil {
		return nil, err
	}
	return m.collectLogits(attended, n, false), nil
}

// ForwardLoss reconstructs the working sequence w = ids[1:] + targets[last]
// (ids omit the final target token by contract), runs the forward pass and
// returns the realigned logits together with the mean cross-entropy over
// non-pad labels. Realigned column k predicts w[k]; column 0 comes from the
// start-token position.
func (m *Model) ForwardLoss(ids, targets [][]int) (*Logits, float64, error) {
	if len(ids) == 0 {
		return nil, 0, fmt.Errorf("megabyte: empty batch")
	}
	if len(targets) != len(ids) {
		return nil, 0, fmt.Errorf("megabyte: %d id rows but %d target rows", len(ids), len(targets))
	}

	work := make([][]int, len(ids))
	for b := range ids {
		if len(ids[b]) != len(ids[0]) {
			return nil, 0, fmt.Errorf("megabyte: ragged batch (row 0 has %d tokens, row %d has %d)", len(ids[0]), b, len(ids[b]))
		}
		if len(targets[b]) != len(ids[b]) {
			return nil, 0, fmt.Errorf("megabyte: row %d has %d ids but %d targets", b, len(ids[b]), len(targets[b]))
		}
		if len(ids[b]) == 0 {
			work[b] = nil
			continue
		}
		w := make([]int, 0, len(ids[b]))
		w = append(w, ids[b][1:]...)
		w = append(w, targets[b][len(targets[b])-1])
		work[b] = w
	}

	if len(work[0]) == 0 {
		// Nothing to supervise; the empty path still yields the
		// first-token prediction.
		return m.forwardEmpty(len(ids)), 0, nil
	}

	nested, _, err := m.nestFlat(work)
	if err != nil {
		return nil, 0, err
	}
	attended, err := m.forwardWindows(nested)
	if err != nil {
		return nil, 0, err
	}
	lg := m.collectLogits(attended, nested, true)
	loss := m.crossEntropy(lg, nested)
	return lg, loss, nil
}

// forwardWindows walks the stages coarse to fine: prepend the start token to
// every window, add the previous stage's projection shifted one position
// right (a zero column lines up with the start token), run the stage stack,
// project for the next stage. Returns the finest stage's attended windows.
func (m *Model) forwardWindows(n *Nested) ([]*mat.Dense, error) {
	tokens := m.stageTokens(n)

	var prev []*mat.Dense
	var attended []*mat.Dense
	for s, st := range m.stages {
		wins := tokens[s]
		if prev != nil && len(prev) != len(wins) {
			return nil, fmt.Errorf("megabyte: stage %d expects %d conditioning windows, got %d", s, len(wins), len(prev))
		}
		for wi := range wins {
			win := prependCol(st.start, wins[wi])
			if prev != nil {
				addShifted(win, prev[wi])
			}
			wins[wi] = st.tf.Forward(win)
		}
		attended = wins
		if st.proj != nil {
			prev = st.proj.apply(wins, true)
		}
	}
	return attended, nil
}

// forwardEmpty handles a zero-token input: each stage runs a length-1
// sequence made of its start token (plus the previous stage's first
// projected position), so the model can predict the very first token with no
// history.
func (m *Model) forwardEmpty(batch int) *Logits {
	var prev []*mat.Dense
	var toks []*mat.Dense
	for _, st := range m.stages {
		toks = make([]*mat.Dense, batch)
		for b := 0; b < batch; b++ {
			toks[b] = mat.DenseCopyOf(st.start)
			if prev != nil {
				for i := 0; i < st.desc.Dim; i++ {
					toks[b].Set(i, 0, toks[b].At(i, 0)+prev[b].At(i, 0))
				}
			}
			toks[b] = st.tf.Forward(toks[b])
		}
		if st.proj != nil {
			prev = st.proj.apply(toks, false)
		}
	}

	out := &Logits{Vocab: m.cfg.NumTokens, Seqs: make([]*mat.Dense, batch)}
	for b := 0; b < batch; b++ {
		out.Seqs[b] = m.windowLogits(toks[b])
	}
	return out
}

func (m *Model) windowLogits(win *mat.Dense) *mat.Dense {
	return utils.AddBias(utils.ToDense(utils.Dot(m.logitsW, win)), m.logitsB)
}

// collectLogits flattens the finest stage's window logits into one matrix
// per batch element. Each window's start-position column is dropped; the
// very first window's start column is the first-token prediction, and when
// withStart is set it is re-prepended ahead of the flattened positions so
// that column k lines up with token k. Without it, column k is the
// prediction made after consuming k+1 tokens.
func (m *Model) collectLogits(attended []*mat.Dense, n *Nested, withStart bool) *Logits {
	S := len(n.Dims)
	L := n.Dims[S-1]
	perBatch := len(attended) / n.Batch
	N := perBatch * L

	cols := N
	if withStart {
		cols++
	}

	out := &Logits{Vocab: m.cfg.NumTokens, Seqs: make([]*mat.Dense, n.Batch)}
	for b := 0; b < n.Batch; b++ {
		dst := mat.NewDense(m.cfg.NumTokens, cols, nil)
		off := 0
		if withStart {
			off = 1
		}
		for wi := 0; wi < perBatch; wi++ {
			lg := m.windowLogits(attended[b*perBatch+wi]) // (vocab x L+1)
			if wi == 0 && withStart {
				copyCol(dst, 0, lg, 0)
			}
			for p := 0; p < L; p++ {
				copyCol(dst, off+wi*L+p, lg, p+1)
			}
		}
		out.Seqs[b] = dst
	}
	return out
}

// crossEntropy averages -log p(label) over every non-pad label position of
// the realigned logits.
func (m *Model) crossEntropy(lg *Logits, n *Nested) float64 {
	perBatch := n.PerBatch()
	var sum float64
	var count int
	for b := 0; b < n.Batch; b++ {
		for k := 0; k < perBatch; k++ {
			label := n.Data[b*perBatch+k]
			if label == m.cfg.PadID {
				continue
			}
			col := utils.ToDense(lg.Seqs[b].Slice(0, m.cfg.NumTokens, k, k+1))
			p := utils.ColVectorSoftmax(col)
			sum += -math.Log(p.At(label, 0) + 1e-12)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func prependCol(col, m *mat.Dense) *mat.Dense {
	d, T := m.Dims()
	out := mat.NewDense(d, T+1, nil)
	for i := 0; i < d; i++ {
		out.Set(i, 0, col.At(i, 0))
	}
	for t := 0; t < T; t++ {
		for i := 0; i < d; i++ {
			out.Set(i, t+1, m.At(i, t))
		}
	}
	return out
}

// addShifted adds prev shifted one position right into win: win column t+1
// accumulates prev column t, and the start column stays untouched.
func addShifted(win, prev *mat.Dense) {
	d, T := win.Dims()
	_, pT := prev.Dims()
	if pT != T-1 {
		panic(fmt.Sprintf("megabyte: conditioning window has %d positions, want %d", pT, T-1))
	}
	for t := 0; t < pT; t++ {
		for i := 0; i < d; i++ {
			win.Set(i, t+1, win.At(i, t+1)+prev.At(i, t))
		}
	}
}

func copyCol(dst *mat.Dense, dstCol int, src *mat.Dense, srcCol int) {
	r, _ := dst.Dims()
	for i := 0; i < r; i++ {
		dst.Set(i, dstCol, src.At(i, srcCol))
	}
}
