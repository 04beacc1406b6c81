package megabyte

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := tinyConfig()
	src, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "weights.gob")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}

	// Different seed, so the weights genuinely change on load.
	cfg2 := cfg
	cfg2.Seed = 999
	dst, err := LoadModel(path, cfg2)
	if err != nil {
		t.Fatal(err)
	}

	ids := [][]int{{1, 2, 3, 4}}
	want, err := src.Forward(ids)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dst.Forward(ids)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 11; i++ {
		for j := 0; j < 4; j++ {
			if want.Seqs[0].At(i, j) != got.Seqs[0].At(i, j) {
				t.Fatalf("loaded model diverges at (%d,%d): %v vs %v", i, j, want.Seqs[0].At(i, j), got.Seqs[0].At(i, j))
			}
		}
	}
}

func TestLoadRejectsMismatchedShapes(t *testing.T) {
	cfg := tinyConfig()
	src, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "weights.gob")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}

	wrong := cfg
	wrong.Dims = []int{12, 4}
	if _, err := LoadModel(path, wrong); err == nil {
		t.Fatal("expected a shape mismatch error loading into a different hierarchy")
	}
}

func TestLoadMissingFile(t *testing.T) {
	m, err := New(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Load(filepath.Join(t.TempDir(), "nope.gob")); err == nil {
		t.Fatal("expected an error for a missing weights file")
	}
}
