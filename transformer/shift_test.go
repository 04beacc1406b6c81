package transformer

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestTokenShiftDelaysSecondHalf(t *testing.T) {
	d, T := 6, 4
	x := mat.NewDense(d, T, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < T; j++ {
			x.Set(i, j, float64(i*10+j))
		}
	}

	s := TokenShift(x)
	keep := (d + 1) / 2

	for i := 0; i < keep; i++ {
		for j := 0; j < T; j++ {
			if s.At(i, j) != x.At(i, j) {
				t.Fatalf("unshifted channel %d changed at position %d", i, j)
			}
		}
	}
	for i := keep; i < d; i++ {
		if s.At(i, 0) != 0 {
			t.Fatalf("shifted channel %d should start at zero, got %v", i, s.At(i, 0))
		}
		for j := 1; j < T; j++ {
			if s.At(i, j) != x.At(i, j-1) {
				t.Fatalf("shifted channel %d at position %d = %v, want %v", i, j, s.At(i, j), x.At(i, j-1))
			}
		}
	}
}

func TestTokenShiftOddChannels(t *testing.T) {
	x := mat.NewDense(5, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
		7, 8,
		9, 10,
	})
	s := TokenShift(x)
	// 3 channels stay, 2 get delayed
	if s.At(2, 1) != 6 {
		t.Fatalf("channel 2 should be untouched")
	}
	if s.At(3, 0) != 0 || s.At(3, 1) != 7 {
		t.Fatalf("channel 3 not delayed: got (%v, %v)", s.At(3, 0), s.At(3, 1))
	}
}
