package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// spectralNormEps guards the L2 normalization denominator.
const spectralNormEps = 1e-12

// SpectralNorm estimates the largest singular value of one weight
// tensor by power iteration and divides the weights by it. The weight
// is viewed as a 2-D matrix of len(w)/Cols rows by Cols columns; the
// caller picks Cols so the view lines up with the weight layout (one
// row per output filter for conv weights). The left-singular estimate
// u is initialized once and updated on every call, never reset;
// convergence happens across training steps, not within one.
type SpectralNorm struct {
	Cols int
	U    []float64
}

// NewSpectralNorm creates the persisted state for a weight viewed with
// the given column width.
func NewSpectralNorm(cols int) *SpectralNorm {
	u := make([]float64, cols)
	for i := range u {
		u[i] = rand.NormFloat64()
	}
	l2normalize(u)
	return &SpectralNorm{Cols: cols, U: u}
}

func l2normalize(v []float64) {
	norm := floats.Norm(v, 2) + spectralNormEps
	for i := range v {
		v[i] /= norm
	}
}

// Apply runs one power-iteration step against w (len(w) must be a
// multiple of Cols), persists the refreshed u, and scales w in place
// by the reciprocal of the estimated top singular value.
func (sn *SpectralNorm) Apply(w []float32) {
	sn.ApplyN(w, 1)
}

// ApplyN runs iters power-iteration steps before normalizing.
func (sn *SpectralNorm) ApplyN(w []float32, iters int) {
	rows := len(w) / sn.Cols
	if rows == 0 || len(w)%sn.Cols != 0 {
		return
	}

	w64 := make([]float64, len(w))
	for i, v := range w {
		w64[i] = float64(v)
	}
	m := mat.NewDense(rows, sn.Cols, w64)

	u := mat.NewVecDense(sn.Cols, sn.U)
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < iters; i++ {
		// v = normalize(W u), u = normalize(Wt v)
		v.MulVec(m, u)
		l2normalize(v.RawVector().Data)
		u.MulVec(m.T(), v)
		l2normalize(u.RawVector().Data)
	}

	// sigma = vt W u
	tmp := mat.NewVecDense(rows, nil)
	tmp.MulVec(m, u)
	sigma := mat.Dot(v, tmp)
	if sigma == 0 {
		return
	}

	copy(sn.U, u.RawVector().Data)
	inv := float32(1.0 / sigma)
	for i := range w {
		w[i] *= inv
	}
}

// Sigma reports the current top-singular-value estimate for w without
// touching the persisted state or the weights.
func (sn *SpectralNorm) Sigma(w []float32) float64 {
	rows := len(w) / sn.Cols
	if rows == 0 {
		return 0
	}
	w64 := make([]float64, len(w))
	for i, v := range w {
		w64[i] = float64(v)
	}
	m := mat.NewDense(rows, sn.Cols, w64)

	u := mat.NewVecDense(sn.Cols, append([]float64(nil), sn.U...))
	v := mat.NewVecDense(rows, nil)
	v.MulVec(m, u)
	l2normalize(v.RawVector().Data)
	u.MulVec(m.T(), v)
	l2normalize(u.RawVector().Data)

	tmp := mat.NewVecDense(rows, nil)
	tmp.MulVec(m, u)
	return mat.Dot(v, tmp)
}

// SpectralNormSet is a keyed store of per-weight normalization state,
// lazily created on first use and owned for the life of the model.
type SpectralNormSet struct {
	norms map[string]*SpectralNorm
}

// NewSpectralNormSet creates an empty store.
func NewSpectralNormSet() *SpectralNormSet {
	return &SpectralNormSet{norms: make(map[string]*SpectralNorm)}
}

// Normalize applies spectral normalization to the parameter, viewed as
// a matrix with cols columns. State is keyed by the parameter name.
func (s *SpectralNormSet) Normalize(p *Parameter, cols int) {
	sn, ok := s.norms[p.Name]
	if !ok {
		sn = NewSpectralNorm(cols)
		s.norms[p.Name] = sn
	}
	sn.Apply(p.Data)
}
