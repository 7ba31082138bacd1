package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidEmbeddingPasses(t *testing.T) {
	vd := New(Config{MinMagnitude: 0.1, MaxMagnitude: 10, MaxZeroRatio: 0.5, CheckFinite: true}, nil)
	v := []float32{0.1, 0.2, 0.3, 0.4}
	assert.NoError(t, vd.Validate(v, "test"), "expected valid embedding to pass")
}

func TestEmptyFails(t *testing.T) {
	vd := New(DefaultConfig(), nil)
	assert.Error(t, vd.Validate(nil, "test"), "expected error for empty embedding")
}

func TestDimensionRangeFails(t *testing.T) {
	vd := New(Config{MinDim: 1024, MaxDim: 1024, MaxMagnitude: 100, MinMagnitude: 0}, nil)
	v := make([]float32, 512)
	for i := range v {
		v[i] = 0.01
	}
	assert.Error(t, vd.Validate(v, "test"), "expected dimension mismatch error")
}

func TestNonFiniteFails(t *testing.T) {
	vd := New(Config{CheckFinite: true, MaxMagnitude: 1000, MaxZeroRatio: 1}, nil)
	v := []float32{1, 2, float32(nan())}
	assert.Error(t, vd.Validate(v, "test"), "expected non-finite error")
}

func TestMagnitudeOutOfRangeFails(t *testing.T) {
	vd := New(Config{MinMagnitude: 1, MaxMagnitude: 2, MaxZeroRatio: 1, CheckFinite: true}, nil)
	v := []float32{100, 100, 100}
	assert.Error(t, vd.Validate(v, "test"), "expected magnitude-too-high error")
}

func TestZeroRatioFails(t *testing.T) {
	vd := New(Config{MaxZeroRatio: 0.2, MinMagnitude: 0, MaxMagnitude: 100, CheckFinite: true}, nil)
	v := []float32{0, 0, 0, 1}
	assert.Error(t, vd.Validate(v, "test"), "expected zero-ratio error")
}

func TestVarianceFloorFails(t *testing.T) {
	vd := New(Config{MaxZeroRatio: 1, MinMagnitude: 0, MaxMagnitude: 100, CheckFinite: true}, nil)
	v := []float32{0.5, 0.5, 0.5, 0.5}
	assert.Error(t, vd.Validate(v, "test"), "expected variance-floor error for identical values")
}

func TestCosineSymmetryAndSelf(t *testing.T) {
	vd := New(Config{MinMagnitude: 0.01}, nil)
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	ab, err := vd.Cosine(a, b)
	require.NoError(t, err)
	ba, err := vd.Cosine(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba, "expected symmetric cosine")
	aa, err := vd.Cosine(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, aa, 1e-4, "expected cosine(a,a)=1 within 1e-4")
}

func nan() float64 {
	var zero float64
	return zero / zero
}
