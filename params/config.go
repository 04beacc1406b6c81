package params

import "fmt"

// Config holds every hyperparameter of the hierarchical model. All values are
// required at construction time; megabyte.New validates them once and refuses
// to build a model from a config whose stage lists disagree.
type Config struct {
	// Core hierarchy parameters. Dims, Depths and MaxSeqLens are ordered
	// coarsest stage first; the last entry is the patch (finest) stage.
	// Dims may hold a single entry, which is broadcast to every stage.
	NumTokens  int   // |V|
	Dims       []int // model width per stage
	Depths     []int // transformer layers per stage
	MaxSeqLens []int // max window length per stage

	// Attention parameters, shared by every stage.
	DimHead     int
	Heads       int
	AttnDropout float64
	FFDropout   float64
	FFMult      int

	// Token handling
	PadID int

	// Position encoding flags
	RelPos bool // rotary q/k rotation inside attention
	PosEmb bool // learned absolute positions added per stage

	// FlashAttn selects the fused attention backend. Requires a build with
	// the accel tag; construction fails otherwise.
	FlashAttn bool

	Debug bool
	Seed  uint64
}

// Stage is the per-stage descriptor built once from a validated Config.
// NextDim and NextSeqLen are zero for the final (patch) stage, which has no
// projector. PatchSize is the number of raw ids governed by one position at
// this stage.
type Stage struct {
	Index      int
	Dim        int
	NextDim    int
	Depth      int
	SeqLen     int
	NextSeqLen int
	PatchSize  int
}

// Default mirrors the reference hyperparameters: a two-stage hierarchy with a
// 256-token outer sequence of 4-token patches.
func Default() Config {
	return Config{
		NumTokens:  50305,
		Dims:       []int{768, 256},
		Depths:     []int{10, 2},
		MaxSeqLens: []int{256, 4},
		DimHead:    64,
		Heads:      12,
		FFMult:     4,
		PadID:      50304,
		Seed:       1,
	}
}

// NumStages returns the hierarchy depth implied by Depths.
func (c Config) NumStages() int { return len(c.Depths) }

// TotalSeqLen is the flat capacity of the model: the product of every stage's
// maximum window length.
func (c Config) TotalSeqLen() int {
	n := 1
	for _, l := range c.MaxSeqLens {
		n *= l
	}
	return n
}

// PatchMultiple is the product of all non-first window lengths. Flat inputs
// are padded up to a multiple of this before the nested reshape.
func (c Config) PatchMultiple() int {
	n := 1
	for _, l := range c.MaxSeqLens[1:] {
		n *= l
	}
	return n
}

func (c Config) Validate() error {
	s := c.NumStages()
	if s == 0 {
		return fmt.Errorf("params: empty stage lists")
	}
	if len(c.MaxSeqLens) != s {
		return fmt.Errorf("params: %d depths but %d max seq lens", s, len(c.MaxSeqLens))
	}
	if len(c.Dims) != s && len(c.Dims) != 1 {
		return fmt.Errorf("params: %d depths but %d dims", s, len(c.Dims))
	}
	for i, d := range c.Dims {
		if d <= 0 {
			return fmt.Errorf("params: dim[%d] = %d, must be positive", i, d)
		}
	}
	for i := 0; i < s; i++ {
		if c.Depths[i] <= 0 {
			return fmt.Errorf("params: depth[%d] = %d, must be positive", i, c.Depths[i])
		}
		if c.MaxSeqLens[i] <= 0 {
			return fmt.Errorf("params: max seq len[%d] = %d, must be positive", i, c.MaxSeqLens[i])
		}
	}
	if c.NumTokens <= 0 {
		return fmt.Errorf("params: num tokens = %d, must be positive", c.NumTokens)
	}
	if c.PadID < 0 || c.PadID >= c.NumTokens {
		return fmt.Errorf("params: pad id %d outside vocabulary of %d", c.PadID, c.NumTokens)
	}
	if c.Heads <= 0 || c.DimHead <= 0 {
		return fmt.Errorf("params: heads = %d, dim head = %d, both must be positive", c.Heads, c.DimHead)
	}
	if c.RelPos && c.DimHead%2 != 0 {
		return fmt.Errorf("params: rotary encoding needs an even dim head, got %d", c.DimHead)
	}
	if c.FFMult <= 0 {
		return fmt.Errorf("params: ff mult = %d, must be positive", c.FFMult)
	}
	return nil
}

// Stages expands the config into per-stage descriptors, broadcasting a
// single-element Dims across the hierarchy. The caller must Validate first;
// Stages repeats the check so it cannot be misused.
func (c Config) Stages() ([]Stage, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := c.NumStages()
	dims := c.Dims
	if len(dims) == 1 && s > 1 {
		dims = make([]int, s)
		for i := range dims {
			dims[i] = c.Dims[0]
		}
	}

	stages := make([]Stage, s)
	for i := 0; i < s; i++ {
		st := Stage{
			Index:     i,
			Dim:       dims[i],
			Depth:     c.Depths[i],
			SeqLen:    c.MaxSeqLens[i],
			PatchSize: 1,
		}
		for _, l := range c.MaxSeqLens[i+1:] {
			st.PatchSize *= l
		}
		if i+1 < s {
			st.NextDim = dims[i+1]
			st.NextSeqLen = c.MaxSeqLens[i+1]
		}
		stages[i] = st
	}
	return stages, nil
}
