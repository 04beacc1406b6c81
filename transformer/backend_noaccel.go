//go:build !accel

package transformer

// Default builds run on gonum's pure-Go BLAS; the fused attention backend is
// not offered.
const blasAccelerated = false
