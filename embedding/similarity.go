package embedding

import (
	"fmt"
	"math"
)

// ErrDimensionMismatch reports a similarity computation over vectors of
// different lengths. It is fatal to that single comparison only.
type ErrDimensionMismatch struct {
	LenA, LenB int
}

// Error implements the error interface.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// lengths yield an ErrDimensionMismatch; a zero-norm operand yields 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{LenA: len(a), LenB: len(b)}
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
