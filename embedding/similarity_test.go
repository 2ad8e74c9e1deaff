package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCosine_Basics(t *testing.T) {
	t.Parallel()

	sim, err := Cosine([]float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)

	sim, err = Cosine([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, sim, 1e-9)

	sim, err = Cosine([]float64{1, 0}, []float64{-1, 0})
	require.NoError(t, err)
	require.InDelta(t, -1.0, sim, 1e-9)
}

func TestCosine_ZeroVectorYieldsZero(t *testing.T) {
	t.Parallel()

	sim, err := Cosine([]float64{0, 0, 0}, []float64{1, 2, 3})
	require.NoError(t, err)
	require.Zero(t, sim)
}

func TestCosine_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := Cosine([]float64{1, 2}, []float64{1, 2, 3})
	require.Error(t, err)

	var mismatch *ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 2, mismatch.LenA)
	require.Equal(t, 3, mismatch.LenB)
}

func TestCosine_SymmetryAndRange(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 16).Draw(t, "n")
		gen := rapid.Float64Range(-100, 100)
		a := make([]float64, n)
		b := make([]float64, n)
		for i := 0; i < n; i++ {
			a[i] = gen.Draw(t, "a")
			b[i] = gen.Draw(t, "b")
		}

		ab, err := Cosine(a, b)
		require.NoError(t, err)
		ba, err := Cosine(b, a)
		require.NoError(t, err)

		require.InDelta(t, ab, ba, 1e-9)
		require.False(t, math.IsNaN(ab))
		require.LessOrEqual(t, ab, 1+1e-9)
		require.GreaterOrEqual(t, ab, -1-1e-9)
	})
}
