//go:build accel

package transformer

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with `-tags accel` links against the system BLAS via netlib and
// makes the fused attention backend selectable.
const blasAccelerated = true

func init() {
	blas64.Use(netlib.Implementation{})
}
