package model

// Input geometry of the classifier.
const (
	TensorBatch    = 1
	TensorChannels = 3
	TensorHeight   = 224
	TensorWidth    = 224
)

// Tensor is a float32 array in planar (NCHW) layout.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewTensor allocates a zeroed (1, 3, 224, 224) tensor.
func NewTensor() Tensor {
	return Tensor{
		Shape: [4]int{TensorBatch, TensorChannels, TensorHeight, TensorWidth},
		Data:  make([]float32, TensorBatch*TensorChannels*TensorHeight*TensorWidth),
	}
}

// Len returns the number of elements described by Shape.
func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Entry is the single in-flight pair retained per stream between ticks: the
// most recently prepared tensor that has not been submitted yet and the raw
// frame it was prepared from.
type Entry struct {
	Raw    *Frame
	Tensor Tensor
}
