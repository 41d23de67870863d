package solver

import "testing"

func TestGaussianSource_SeedReproducible(t *testing.T) {
	a := NewGaussianSource(42)
	b := NewGaussianSource(42)

	for draw := 0; draw < 5; draw++ {
		va := a.NextVector(4)
		vb := b.NextVector(4)
		if len(va) != 4 || len(vb) != 4 {
			t.Fatalf("Expected vectors of length 4, got %d and %d", len(va), len(vb))
		}
		for i := range va {
			if va[i] != vb[i] {
				t.Fatalf("Draw %d diverged at %d: %v vs %v", draw, i, va[i], vb[i])
			}
		}
	}
}

func TestGaussianSource_SeedsDiffer(t *testing.T) {
	a := NewGaussianSource(1).NextVector(8)
	b := NewGaussianSource(2).NextVector(8)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Different seeds produced the same draw sequence")
	}
}

func TestGaussianSource_ZeroSeedUsesClock(t *testing.T) {
	src := NewGaussianSource(0)
	v := src.NextVector(3)
	if len(v) != 3 {
		t.Fatalf("Expected a vector of length 3, got %d", len(v))
	}
}
