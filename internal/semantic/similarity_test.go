package semantic

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 0.0,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1, 0},
			b:        []float32{-1, 0},
			expected: -1.0,
		},
		{
			name:     "similar vectors",
			a:        []float32{1, 1},
			b:        []float32{1, 0},
			expected: 0.7071067, // cos(45 degrees)
		},
		{
			name:     "empty vectors",
			a:        []float32{},
			b:        []float32{},
			expected: 0.0,
		},
		{
			name:     "different lengths",
			a:        []float32{1, 0},
			b:        []float32{1, 0, 0},
			expected: 0.0,
		},
		{
			name:     "zero vector a",
			a:        []float32{0, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 0.0,
		},
		{
			name:     "zero vector b",
			a:        []float32{1, 0, 0},
			b:        []float32{0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "scale invariant",
			a:        []float32{0.6, 0.8},
			b:        []float32{6, 8},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestCosineSimilarity_Commutative(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	ab := CosineSimilarity(a, b)
	ba := CosineSimilarity(b, a)

	if math.Abs(ab-ba) > 1e-12 {
		t.Errorf("CosineSimilarity is not commutative: %v vs %v", ab, ba)
	}
}

func TestCosineSimilarity_ExactHalf(t *testing.T) {
	got := CosineSimilarity([]float32{1, 1, 0, 0}, []float32{1, 0, 1, 0})
	if got != 0.5 {
		t.Errorf("CosineSimilarity() = %v, want exactly 0.5", got)
	}
}
