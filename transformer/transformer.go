package transformer

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

// StackConfig sizes one stage's transformer stack.
type StackConfig struct {
	Dim         int
	Layers      int
	DimHead     int
	Heads       int
	AttnDropout float64
	FFDropout   float64
	FFMult      int
	RelPos      bool
	Flash       bool
}

// Layer pairs one attention and one feed-forward sub-block.
type Layer struct {
	Attn *Attention
	FF   *FeedForward
}

// Transformer is the per-stage stack: Layers of token-shifted attention and
// feed-forward with residuals, then a final RMSNorm. It operates on one local
// window (dim x T) at a time.
type Transformer struct {
	Cfg    StackConfig
	Rotary *Rotary // nil without relative positions
	Layers []Layer
	Norm   *RMSNorm
}

func New(cfg StackConfig, src rand.Source) (*Transformer, error) {
	if cfg.Dim <= 0 || cfg.Layers <= 0 {
		return nil, fmt.Errorf("transformer: dim %d, layers %d, both must be positive", cfg.Dim, cfg.Layers)
	}
	if cfg.RelPos && cfg.DimHead%2 != 0 {
		return nil, fmt.Errorf("transformer: rotary encoding needs an even dim head, got %d", cfg.DimHead)
	}
	t := &Transformer{
		Cfg:    cfg,
		Layers: make([]Layer, cfg.Layers),
		Norm:   NewRMSNorm(cfg.Dim),
	}
	if cfg.RelPos {
		t.Rotary = NewRotary(cfg.DimHead)
	}
	for i := range t.Layers {
		attn, err := NewAttention(cfg.Dim, cfg.DimHead, cfg.Heads, cfg.AttnDropout, cfg.Flash, src)
		if err != nil {
			return nil, err
		}
		t.Layers[i] = Layer{
			Attn: attn,
			FF:   NewFeedForward(cfg.Dim, cfg.FFMult, cfg.FFDropout, src),
		}
	}
	return t, nil
}

// Forward runs one window (dim x T) through every layer, attending causally
// within the window. Rotary angles are computed once per call.
func (t *Transformer) Forward(x *mat.Dense) *mat.Dense {
	_, T := x.Dims()
	var angles *mat.Dense
	if t.Rotary != nil {
		angles = t.Rotary.Angles(T)
	}
	for _, l := range t.Layers {
		x = utils.ToDense(utils.Add(l.Attn.Forward(TokenShift(x), angles), x))
		x = utils.ToDense(utils.Add(l.FF.Forward(TokenShift(x)), x))
	}
	return t.Norm.Forward(x)
}
