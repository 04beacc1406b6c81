package megabyte

import (
	"math"
	"testing"
)

func TestGenerateFillsModelLength(t *testing.T) {
	m := tinyModel(t)
	out, err := m.Generate(nil, 0.9, 1.0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if out.Batch != 2 {
		t.Fatalf("batch = %d, want 2", out.Batch)
	}
	if len(out.Dims) != 2 || out.Dims[0] != 3 || out.Dims[1] != 2 {
		t.Fatalf("dims = %v, want [3 2]", out.Dims)
	}
	if out.Numel() != 12 {
		t.Fatalf("numel = %d, want 12", out.Numel())
	}
	for i, id := range out.Data {
		if id < 0 || id >= 11 {
			t.Fatalf("sampled id %d at %d outside vocabulary", id, i)
		}
	}
}

func TestGenerateKeepsPrime(t *testing.T) {
	m := tinyModel(t)
	prime := [][]int{{4, 2, 7}}
	out, err := m.Generate(prime, 0.9, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Batch != 1 || out.PerBatch() != 6 {
		t.Fatalf("got %d x %d tokens, want 1 x 6", out.Batch, out.PerBatch())
	}
	for i, want := range prime[0] {
		if out.Data[i] != want {
			t.Fatalf("prime token %d overwritten: got %d, want %d", i, out.Data[i], want)
		}
	}
}

func TestGenerateArgumentChecks(t *testing.T) {
	m := tinyModel(t)
	if _, err := m.Generate(nil, 0, 1.0, 1); err == nil {
		t.Fatal("expected error for zero filter threshold")
	}
	if _, err := m.Generate(nil, 1.5, 1.0, 1); err == nil {
		t.Fatal("expected error for threshold above 1")
	}
	if _, err := m.Generate(nil, 0.9, 0, 1); err == nil {
		t.Fatal("expected error for zero temperature")
	}
	if _, err := m.Generate(nil, 0.9, 1.0, 0); err == nil {
		t.Fatal("expected error for zero batch size without a prime")
	}
	if _, err := m.Generate([][]int{{1}, {1, 2}}, 0.9, 1.0, 0); err == nil {
		t.Fatal("expected error for a ragged prime")
	}
	if _, err := m.Generate([][]int{{0, 1, 2, 3, 4, 5, 6}}, 0.9, 1.0, 0); err == nil {
		t.Fatal("expected error for a prime past the model length")
	}
}

func TestTopKFilter(t *testing.T) {
	col := []float64{0.1, 5.0, 3.0, -2.0, 4.0}
	topKFilter(col, 0.5) // keeps int(0.5*5) = 2 entries
	kept := 0
	for i, v := range col {
		if !math.IsInf(v, -1) {
			kept++
			if i != 1 && i != 4 {
				t.Fatalf("kept index %d, expected only the two largest", i)
			}
		}
	}
	if kept != 2 {
		t.Fatalf("kept %d entries, want 2", kept)
	}
}

func TestTopKFilterKeepsAtLeastOne(t *testing.T) {
	col := []float64{1, 2, 3}
	topKFilter(col, 1.0)
	kept := 0
	for _, v := range col {
		if !math.IsInf(v, -1) {
			kept++
		}
	}
	if kept != 1 {
		t.Fatalf("kept %d entries at the extreme threshold, want 1", kept)
	}
}
