package transformer

import "gonum.org/v1/gonum/mat"

// TokenShift splits the channels of x (dim x T) in half and delays the second
// half by one position: column t of the shifted half reads column t-1 of the
// input, and the first column is zero. Cheap one-step lookback injected before
// every attention and feed-forward sub-block.
func TokenShift(x *mat.Dense) *mat.Dense {
	d, T := x.Dims()
	keep := (d + 1) / 2
	out := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		for i := 0; i < keep; i++ {
			out.Set(i, t, x.At(i, t))
		}
		if t == 0 {
			continue
		}
		for i := keep; i < d; i++ {
			out.Set(i, t, x.At(i, t-1))
		}
	}
	return out
}
