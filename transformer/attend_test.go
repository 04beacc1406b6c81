package transformer

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Karinza38/BlaGPT/utils"
)

func randMat(r, c int, src rand.Source) *mat.Dense {
	return mat.NewDense(r, c, utils.RandomArray(r*c, float64(r), src))
}

// Both kernels must produce the same numbers; the fused path only changes
// how the work is scheduled.
func TestFusedMatchesNaive(t *testing.T) {
	src := rand.NewSource(7)
	dHead, T := 8, 5
	q := randMat(dHead, T, src)
	k := randMat(dHead, T, src)
	v := randMat(dHead, T, src)

	naive := &Attend{Causal: true, Backend: BackendNaive, maskCache: make(map[int]*mat.Dense)}
	fused := &Attend{Causal: true, Backend: BackendFused, maskCache: make(map[int]*mat.Dense)}

	a := naive.Forward(q, k, v, nil)
	b := fused.Forward(q, k, v, nil)

	for i := 0; i < dHead; i++ {
		for j := 0; j < T; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > 1e-9 {
				t.Fatalf("kernels disagree at (%d,%d): naive %v, fused %v", i, j, a.At(i, j), b.At(i, j))
			}
		}
	}
}

// Changing a future key/value must not change earlier outputs.
func TestCausalMaskingBlocksFuture(t *testing.T) {
	src := rand.NewSource(11)
	dHead, T := 4, 6
	q := randMat(dHead, T, src)
	k := randMat(dHead, T, src)
	v := randMat(dHead, T, src)

	att, err := NewAttend(true, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	before := att.Forward(q, k, v, nil)

	k.Set(0, T-1, k.At(0, T-1)+100)
	v.Set(0, T-1, v.At(0, T-1)-100)
	after := att.Forward(q, k, v, nil)

	for i := 0; i < dHead; i++ {
		for j := 0; j < T-1; j++ {
			if math.Abs(before.At(i, j)-after.At(i, j)) > 1e-12 {
				t.Fatalf("position %d saw a future token", j)
			}
		}
	}
}

func TestAttendRowsSumToOne(t *testing.T) {
	src := rand.NewSource(3)
	dHead, T := 4, 4
	q := randMat(dHead, T, src)
	k := randMat(dHead, T, src)
	// All-ones values: every output entry is then the attention row sum.
	v := mat.NewDense(dHead, T, nil)
	for i := 0; i < dHead; i++ {
		for j := 0; j < T; j++ {
			v.Set(i, j, 1)
		}
	}

	att, err := NewAttend(true, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	out := att.Forward(q, k, v, nil)
	for i := 0; i < dHead; i++ {
		for j := 0; j < T; j++ {
			if math.Abs(out.At(i, j)-1) > 1e-9 {
				t.Fatalf("attention weights at query %d do not sum to 1: %v", j, out.At(i, j))
			}
		}
	}
}

func TestFusedBackendNeedsAccelBuild(t *testing.T) {
	_, err := NewAttend(true, 0, true)
	if blasAccelerated && err != nil {
		t.Fatalf("accel build should allow the fused backend: %v", err)
	}
	if !blasAccelerated && err == nil {
		t.Fatal("expected an error requesting fused attention without the accel tag")
	}
}
