package utils

import (
	"fmt"
	"math"
)

// CosineSimilarity returns cos(θ) between two equal-length vectors, i.e.
// 1 - cosine distance. A zero vector scores 0. Sums are accumulated in
// float64 so 1536-dim embeddings of the same text score 1 within 1e-6.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension: %d != %d", len(vec1), len(vec2))
	}

	var dot, sum1, sum2 float64
	for i := range vec1 {
		a, b := float64(vec1[i]), float64(vec2[i])
		dot += a * b
		sum1 += a * a
		sum2 += b * b
	}
	if sum1 == 0 || sum2 == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(sum1) * math.Sqrt(sum2))
	// clamp rounding drift
	return float32(math.Max(-1, math.Min(1, sim))), nil
}
