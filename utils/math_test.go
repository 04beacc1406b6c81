package utils

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestColVectorSoftmax(t *testing.T) {
	v := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	p := ColVectorSoftmax(v)
	var sum float64
	for i := 0; i < 4; i++ {
		if p.At(i, 0) <= 0 {
			t.Fatalf("probability %d not positive: %v", i, p.At(i, 0))
		}
		sum += p.At(i, 0)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("probabilities sum to %v", sum)
	}
	// Monotone in the logits.
	for i := 1; i < 4; i++ {
		if p.At(i, 0) <= p.At(i-1, 0) {
			t.Fatal("softmax not monotone in its input")
		}
	}
}

func TestColVectorSoftmaxLargeLogits(t *testing.T) {
	v := mat.NewDense(2, 1, []float64{1000, 999})
	p := ColVectorSoftmax(v)
	if math.IsNaN(p.At(0, 0)) || math.IsNaN(p.At(1, 0)) {
		t.Fatal("softmax overflowed on large logits")
	}
	if p.At(0, 0) <= p.At(1, 0) {
		t.Fatal("larger logit should keep larger probability")
	}
}

func TestCausalMask(t *testing.T) {
	m := CausalMask(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m.At(i, j)
			if j <= i && v != 0 {
				t.Fatalf("visible position (%d,%d) masked: %v", i, j, v)
			}
			if j > i && v >= 0 {
				t.Fatalf("future position (%d,%d) not masked: %v", i, j, v)
			}
		}
	}
}

func TestRowSoftmaxMaskedRespectsMask(t *testing.T) {
	T := 3
	scores := mat.NewDense(T, T, []float64{
		1, 9, 9,
		2, 3, 9,
		1, 1, 1,
	})
	out := mat.NewDense(T, T, nil)
	RowSoftmaxMaskedInPlace(out, scores, CausalMask(T))
	for i := 0; i < T; i++ {
		var sum float64
		for j := 0; j < T; j++ {
			if j > i && out.At(i, j) != 0 {
				t.Fatalf("masked entry (%d,%d) got weight %v", i, j, out.At(i, j))
			}
			sum += out.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
}

func TestRandomArrayRange(t *testing.T) {
	fan := 16.0
	bound := 1 / math.Sqrt(fan)
	vals := RandomArray(1000, fan, rand.NewSource(1))
	for i, v := range vals {
		if v < -bound || v > bound {
			t.Fatalf("value %d = %v outside ±%v", i, v, bound)
		}
	}
}

func TestAddBias(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := mat.NewDense(2, 1, []float64{10, 20})
	out := AddBias(m, b)
	if out.At(0, 2) != 13 || out.At(1, 0) != 14 {
		t.Fatalf("bias not broadcast across columns: %v, %v", out.At(0, 2), out.At(1, 0))
	}
}

func TestLastCol(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	c := LastCol(m)
	if r, cc := c.Dims(); r != 2 || cc != 1 {
		t.Fatalf("last column is %dx%d", r, cc)
	}
	if c.At(0, 0) != 3 || c.At(1, 0) != 6 {
		t.Fatalf("last column values wrong: %v, %v", c.At(0, 0), c.At(1, 0))
	}
}
