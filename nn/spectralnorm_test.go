package nn

import (
	"math"
	"testing"
)

// TestSpectralNormIdentity verifies an orthonormal matrix is left
// unchanged
func TestSpectralNormIdentity(t *testing.T) {
	w := []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
	orig := append([]float32(nil), w...)

	sn := NewSpectralNorm(3)
	sn.ApplyN(w, 20)

	if diff := MaxAbsDiff(w, orig); diff > 1e-5 {
		t.Errorf("identity changed by %e after normalization", diff)
	}
}

// TestSpectralNormConvergence verifies power iteration finds the top
// singular value of a known matrix
func TestSpectralNormConvergence(t *testing.T) {
	// diag(3, 1): top singular value 3
	w := []float32{
		3, 0,
		0, 1,
	}
	sn := NewSpectralNorm(2)
	// converge the estimate without touching the weights
	work := append([]float32(nil), w...)
	sn.ApplyN(work, 20)

	sigma := sn.Sigma(w)
	if math.Abs(sigma-3) > 1e-3 {
		t.Errorf("expected sigma 3, got %f", sigma)
	}
}

// TestSpectralNormScalesToUnit verifies the normalized matrix has top
// singular value near 1
func TestSpectralNormScalesToUnit(t *testing.T) {
	w := []float32{
		2, 1, 0,
		0, 3, 1,
		1, 0, 2,
		1, 1, 1,
	}
	sn := NewSpectralNorm(3)
	sn.ApplyN(w, 30)

	if sigma := sn.Sigma(w); math.Abs(sigma-1) > 1e-2 {
		t.Errorf("normalized matrix has sigma %f, expected ~1", sigma)
	}
}

// TestSpectralNormConvFilterMatrix verifies a conv weight normalized
// one row per output filter ends with unit top singular value
func TestSpectralNormConvFilterMatrix(t *testing.T) {
	// two filters of shape [1][3][3]; the flattened rows are
	// orthogonal with norms 3 and 4, so the filter matrix has
	// singular values 3 and 4 and normalization divides by 4
	w := make([]float32, 2*1*3*3)
	w[0] = 3  // filter 0
	w[10] = 4 // filter 1

	cols := 1 * 3 * 3
	sn := NewSpectralNorm(cols)
	sn.ApplyN(w, 30)

	if sigma := sn.Sigma(w); math.Abs(sigma-1) > 1e-3 {
		t.Errorf("normalized filter matrix has sigma %f, expected ~1", sigma)
	}
	if math.Abs(float64(w[0])-0.75) > 1e-3 || math.Abs(float64(w[10])-1) > 1e-3 {
		t.Errorf("expected filters scaled by 1/4, got %f and %f", w[0], w[10])
	}
}

// TestSpectralNormZeroMatrix verifies a zero matrix is a no-op rather
// than a NaN source
func TestSpectralNormZeroMatrix(t *testing.T) {
	w := make([]float32, 9)
	sn := NewSpectralNorm(3)
	sn.ApplyN(w, 5)
	for i, v := range w {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Errorf("zero matrix entry %d became %f", i, v)
		}
	}
	for _, u := range sn.U {
		if math.IsNaN(u) {
			t.Error("persisted vector contains NaN")
		}
	}
}

// TestSpectralNormSetKeying verifies state is kept per parameter name
func TestSpectralNormSetKeying(t *testing.T) {
	set := NewSpectralNormSet()
	a := NewParameter("a", 4)
	b := NewParameter("b", 4)
	copy(a.Data, []float32{2, 0, 0, 2})
	copy(b.Data, []float32{5, 0, 0, 5})

	set.Normalize(a, 2)
	set.Normalize(b, 2)

	state := set.Export()
	if len(state) != 2 {
		t.Fatalf("expected 2 persisted vectors, got %d", len(state))
	}

	restored := NewSpectralNormSet()
	if err := restored.Import(state); err != nil {
		t.Fatal(err)
	}
	if len(restored.Export()) != 2 {
		t.Error("round-tripped state lost entries")
	}
}

// TestSpectralNormPersistence verifies the u vector carries across
// calls so the estimate refines step by step
func TestSpectralNormPersistence(t *testing.T) {
	w := []float32{
		4, 0,
		0, 1,
	}
	sn := NewSpectralNorm(2)
	before := append([]float64(nil), sn.U...)
	work := append([]float32(nil), w...)
	sn.Apply(work)
	after := sn.U

	same := true
	for i := range before {
		if before[i] != after[i] {
			same = false
		}
	}
	if same {
		t.Error("persisted vector was not updated by Apply")
	}
}
