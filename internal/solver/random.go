package solver

import (
	"math/rand"
	"time"
)

// VectorSource supplies the random direction material for the pattern
// engine. Implementations must be deterministic under a fixed seed so runs
// can be reproduced; tests substitute fixed sequences.
type VectorSource interface {
	// NextVector returns n independent standard normal draws.
	NextVector(n int) []float64
}

type gaussianSource struct {
	rng *rand.Rand
}

// NewGaussianSource returns the default VectorSource. A zero seed derives
// one from the clock.
func NewGaussianSource(seed int64) VectorSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &gaussianSource{rng: rand.New(rand.NewSource(seed))}
}

func (g *gaussianSource) NextVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = g.rng.NormFloat64()
	}
	return v
}
