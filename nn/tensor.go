package nn

import (
	"math"
	"math/rand"
)

// Tensor is a flat float32 buffer with an explicit shape.
// Audio tensors are laid out [batch][channel][time], image tensors
// [batch][channel][height][width], row-major.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor creates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, size),
	}
}

// NewTensorFromSlice wraps an existing slice. The slice is not copied;
// the caller gives up ownership.
func NewTensorFromSlice(data []float32, shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, s := range t.Shape {
		size *= s
	}
	return size
}

// Dim returns the size of axis i, or 1 if the axis does not exist.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 1
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float32, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// Reshape returns a view with a new shape, or nil if the element count
// does not match.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if size != len(t.Data) {
		return nil
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  t.Data,
	}
}

// Add accumulates other into t elementwise. Lengths must match.
func (t *Tensor) Add(other *Tensor) {
	for i := range t.Data {
		t.Data[i] += other.Data[i]
	}
}

// Parameter is a named, learnable weight buffer with its gradient
// accumulator. Optimizers key their per-weight state on Name.
type Parameter struct {
	Name string
	Data []float32
	Grad []float32
}

// NewParameter creates a zero-initialized parameter.
func NewParameter(name string, size int) *Parameter {
	return &Parameter{
		Name: name,
		Data: make([]float32, size),
		Grad: make([]float32, size),
	}
}

// NewParameterHe creates a parameter with He-initialized weights where
// fanIn is the number of inputs feeding each output unit.
func NewParameterHe(name string, size, fanIn int) *Parameter {
	p := NewParameter(name, size)
	stddev := float32(math.Sqrt(2.0 / float64(fanIn)))
	for i := range p.Data {
		p.Data[i] = float32(rand.NormFloat64()) * stddev
	}
	return p
}

// ZeroGrad clears the gradient accumulator.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears gradients on a parameter set.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// MaxAbsDiff calculates the maximum absolute difference between two slices.
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// Mean returns the mean value of a slice.
func Mean(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	sum := float32(0)
	for _, x := range v {
		sum += x
	}
	return sum / float32(len(v))
}

// Max returns the maximum value in a slice.
func Max(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

// Min returns the minimum value in a slice.
func Min(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}
