// Package preprocess turns camera images into classifier input tensors.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"edgeclassifier/internal/model"

	"gocv.io/x/gocv"
)

var (
	// ErrEmptyImage is returned for an image without pixels.
	ErrEmptyImage = errors.New("image is empty")
	// ErrChannels is returned for an image that is not 8-bit with 3 channels.
	ErrChannels = errors.New("image must be 8-bit with 3 channels")
)

// ImageNet normalization constants, indexed by channel in memory order.
var (
	mean = [model.TensorChannels]float32{0.485, 0.456, 0.406}
	std  = [model.TensorChannels]float32{0.229, 0.224, 0.225}
)

// lut maps every 8-bit sample to its normalized value for each channel.
var lut = buildLUT()

func buildLUT() [model.TensorChannels][256]float32 {
	var t [model.TensorChannels][256]float32
	for c := 0; c < model.TensorChannels; c++ {
		for v := 0; v < 256; v++ {
			t[c][v] = normalize(c, uint8(v))
		}
	}
	return t
}

func normalize(c int, v uint8) float32 {
	return (float32(v)/255 - mean[c]) / std[c]
}

// Bounds returns the smallest and largest value a sample of channel c can
// take after normalization.
func Bounds(c int) (lo, hi float32) {
	return normalize(c, 0), normalize(c, 255)
}

// Prepare resizes img to 224x224 with bilinear interpolation and returns the
// normalized planar tensor. img must be an 8-bit, 3-channel image.
func Prepare(img gocv.Mat) (model.Tensor, error) {
	if img.Empty() {
		return model.Tensor{}, ErrEmptyImage
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return model.Tensor{}, fmt.Errorf("%w: got type %d with %d channels", ErrChannels, int(img.Type()), img.Channels())
	}

	resized := gocv.NewMat()
	defer resized.Close()

	size := image.Pt(model.TensorWidth, model.TensorHeight)
	if err := gocv.Resize(img, &resized, size, 0, 0, gocv.InterpolationLinear); err != nil {
		return model.Tensor{}, fmt.Errorf("failed to resize image: %w", err)
	}

	return Normalize(resized.ToBytes()), nil
}

// Normalize converts an interleaved 224x224x3 8-bit buffer into the planar
// normalized tensor. It panics when pixels has the wrong length.
func Normalize(pixels []byte) model.Tensor {
	const plane = model.TensorHeight * model.TensorWidth
	if len(pixels) != plane*model.TensorChannels {
		panic(fmt.Sprintf("preprocess: expected %d samples, got %d", plane*model.TensorChannels, len(pixels)))
	}

	t := model.NewTensor()
	for i := 0; i < plane; i++ {
		px := pixels[i*model.TensorChannels : i*model.TensorChannels+model.TensorChannels]
		for c := 0; c < model.TensorChannels; c++ {
			t.Data[c*plane+i] = lut[c][px[c]]
		}
	}
	return t
}
