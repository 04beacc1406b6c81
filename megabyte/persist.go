package megabyte

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/params"
	"github.com/Karinza38/BlaGPT/transformer"
)

type matData struct {
	R, C int
	Data []float64
}

func packMat(m *mat.Dense) matData {
	if m == nil {
		return matData{}
	}
	r, c := m.Dims()
	out := matData{R: r, C: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		out.Data = append(out.Data, m.RawRowView(i)...)
	}
	return out
}

func unpackMat(dst *mat.Dense, d matData, name string) error {
	r, c := dst.Dims()
	if d.R != r || d.C != c {
		return fmt.Errorf("LoadModel: %s shape mismatch (have %dx%d, file %dx%d)", name, r, c, d.R, d.C)
	}
	if len(d.Data) != r*c {
		return fmt.Errorf("LoadModel: %s has %d values, want %d", name, len(d.Data), r*c)
	}
	for i := 0; i < r; i++ {
		copy(dst.RawRowView(i), d.Data[i*c:(i+1)*c])
	}
	return nil
}

type layerData struct {
	NormG      matData
	Wq, Wk, Wv []matData
	Wo         matData

	FFNormG        matData
	W1, B1, W2, B2 matData
}

type stackData struct {
	Layers []layerData
	NormG  matData
}

type stageData struct {
	Start  matData
	PosEmb matData // zero-valued when positions are disabled

	EmbTable matData

	// patch embedder weights, present on every stage but the finest
	PatchNorm1G, PatchNorm1B matData
	PatchW, PatchB           matData
	PatchNorm2G, PatchNorm2B matData

	Stack stackData

	// projector weights, present on every stage but the finest
	ProjW, ProjB matData
}

type modelData struct {
	Stages  []stageData
	LogitsW matData
	LogitsB matData
}

func packStack(t *transformer.Transformer) stackData {
	sd := stackData{
		Layers: make([]layerData, len(t.Layers)),
		NormG:  packMat(t.Norm.G),
	}
	for li, l := range t.Layers {
		ld := layerData{
			NormG:   packMat(l.Attn.Norm.G),
			Wq:      make([]matData, l.Attn.Heads),
			Wk:      make([]matData, l.Attn.Heads),
			Wv:      make([]matData, l.Attn.Heads),
			Wo:      packMat(l.Attn.Wo),
			FFNormG: packMat(l.FF.Norm.G),
			W1:      packMat(l.FF.W1),
			B1:      packMat(l.FF.B1),
			W2:      packMat(l.FF.W2),
			B2:      packMat(l.FF.B2),
		}
		for h := 0; h < l.Attn.Heads; h++ {
			ld.Wq[h] = packMat(l.Attn.Wq[h])
			ld.Wk[h] = packMat(l.Attn.Wk[h])
			ld.Wv[h] = packMat(l.Attn.Wv[h])
		}
		sd.Layers[li] = ld
	}
	return sd
}

func unpackStack(t *transformer.Transformer, sd stackData, prefix string) error {
	if len(sd.Layers) != len(t.Layers) {
		return fmt.Errorf("LoadModel: %s has %d layers, file %d", prefix, len(t.Layers), len(sd.Layers))
	}
	if err := unpackMat(t.Norm.G, sd.NormG, prefix+".norm"); err != nil {
		return err
	}
	for li := range t.Layers {
		l := t.Layers[li]
		ld := sd.Layers[li]
		name := fmt.Sprintf("%s.layer%d", prefix, li)
		if len(ld.Wq) != l.Attn.Heads || len(ld.Wk) != l.Attn.Heads || len(ld.Wv) != l.Attn.Heads {
			return fmt.Errorf("LoadModel: %s has %d heads, file %d", name, l.Attn.Heads, len(ld.Wq))
		}
		if err := unpackMat(l.Attn.Norm.G, ld.NormG, name+".attn.norm"); err != nil {
			return err
		}
		for h := 0; h < l.Attn.Heads; h++ {
			if err := unpackMat(l.Attn.Wq[h], ld.Wq[h], fmt.Sprintf("%s.attn.wq%d", name, h)); err != nil {
				return err
			}
			if err := unpackMat(l.Attn.Wk[h], ld.Wk[h], fmt.Sprintf("%s.attn.wk%d", name, h)); err != nil {
				return err
			}
			if err := unpackMat(l.Attn.Wv[h], ld.Wv[h], fmt.Sprintf("%s.attn.wv%d", name, h)); err != nil {
				return err
			}
		}
		if err := unpackMat(l.Attn.Wo, ld.Wo, name+".attn.wo"); err != nil {
			return err
		}
		if err := unpackMat(l.FF.Norm.G, ld.FFNormG, name+".ff.norm"); err != nil {
			return err
		}
		if err := unpackMat(l.FF.W1, ld.W1, name+".ff.w1"); err != nil {
			return err
		}
		if err := unpackMat(l.FF.B1, ld.B1, name+".ff.b1"); err != nil {
			return err
		}
		if err := unpackMat(l.FF.W2, ld.W2, name+".ff.w2"); err != nil {
			return err
		}
		if err := unpackMat(l.FF.B2, ld.B2, name+".ff.b2"); err != nil {
			return err
		}
	}
	return nil
}

// Save writes all model weights to path with gob. The config itself is not
// stored; loading requires the same config the model was built with.
func (m *Model) Save(path string) error {
	md := modelData{
		Stages:  make([]stageData, len(m.stages)),
		LogitsW: packMat(m.logitsW),
		LogitsB: packMat(m.logitsB),
	}
	for si, st := range m.stages {
		sd := stageData{
			Start: packMat(st.start),
			Stack: packStack(st.tf),
		}
		if st.posEmb != nil {
			sd.PosEmb = packMat(st.posEmb)
		}
		if st.fine != nil {
			sd.EmbTable = packMat(st.fine.Table)
		} else {
			sd.EmbTable = packMat(st.patch.Table)
			sd.PatchNorm1G = packMat(st.patch.Norm1.Gamma)
			sd.PatchNorm1B = packMat(st.patch.Norm1.Beta)
			sd.PatchW = packMat(st.patch.W)
			sd.PatchB = packMat(st.patch.B)
			sd.PatchNorm2G = packMat(st.patch.Norm2.Gamma)
			sd.PatchNorm2B = packMat(st.patch.Norm2.Beta)
		}
		if st.proj != nil {
			sd.ProjW = packMat(st.proj.W)
			sd.ProjB = packMat(st.proj.B)
		}
		md.Stages[si] = sd
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(md); err != nil {
		return fmt.Errorf("SaveModel: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Load replaces the model's weights with the contents of path. The file
// must have been saved from a model with the same config.
func (m *Model) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("LoadModel: %w", err)
	}
	var md modelData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&md); err != nil {
		return fmt.Errorf("LoadModel: %w", err)
	}
	if len(md.Stages) != len(m.stages) {
		return fmt.Errorf("LoadModel: model has %d stages, file %d", len(m.stages), len(md.Stages))
	}

	for si, st := range m.stages {
		sd := md.Stages[si]
		name := fmt.Sprintf("stage%d", si)
		if err := unpackMat(st.start, sd.Start, name+".start"); err != nil {
			return err
		}
		if st.posEmb != nil {
			if err := unpackMat(st.posEmb, sd.PosEmb, name+".pos"); err != nil {
				return err
			}
		}
		if st.fine != nil {
			if err := unpackMat(st.fine.Table, sd.EmbTable, name+".emb"); err != nil {
				return err
			}
		} else {
			if err := unpackMat(st.patch.Table, sd.EmbTable, name+".emb"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.Norm1.Gamma, sd.PatchNorm1G, name+".patch.norm1.g"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.Norm1.Beta, sd.PatchNorm1B, name+".patch.norm1.b"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.W, sd.PatchW, name+".patch.w"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.B, sd.PatchB, name+".patch.b"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.Norm2.Gamma, sd.PatchNorm2G, name+".patch.norm2.g"); err != nil {
				return err
			}
			if err := unpackMat(st.patch.Norm2.Beta, sd.PatchNorm2B, name+".patch.norm2.b"); err != nil {
				return err
			}
		}
		if err := unpackStack(st.tf, sd.Stack, name+".stack"); err != nil {
			return err
		}
		if st.proj != nil {
			if err := unpackMat(st.proj.W, sd.ProjW, name+".proj.w"); err != nil {
				return err
			}
			if err := unpackMat(st.proj.B, sd.ProjB, name+".proj.b"); err != nil {
				return err
			}
		}
	}
	if err := unpackMat(m.logitsW, md.LogitsW, "logits.w"); err != nil {
		return err
	}
	return unpackMat(m.logitsB, md.LogitsB, "logits.b")
}

// LoadModel builds a fresh model from cfg and fills it from path.
func LoadModel(path string, cfg params.Config) (*Model, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}
