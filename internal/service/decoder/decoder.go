// Package decoder turns classifier output into detections.
package decoder

import (
	"fmt"
	"math"

	"edgeclassifier/internal/model"
)

// NoTarget disables target-class flagging.
const NoTarget = -1

// Decoder filters classification output against a threshold and flags the
// configured target class.
type Decoder struct {
	targetIndex int
}

// New creates a Decoder that marks detections of targetIndex as targets.
func New(targetIndex int) *Decoder {
	return &Decoder{targetIndex: targetIndex}
}

// Decode returns one detection per class whose probability is at least
// threshold, in ascending class order.
func (d *Decoder) Decode(output []float32, threshold float32) []model.Detection {
	var detections []model.Detection
	for i, p := range output {
		if p < threshold {
			continue
		}
		detections = append(detections, model.Detection{
			ClassIndex:  i,
			Probability: p,
			Label:       Label(i, p),
			Target:      i == d.targetIndex,
		})
	}
	return detections
}

// Decode is Decoder.Decode without target flagging.
func Decode(output []float32, threshold float32) []model.Detection {
	return New(NoTarget).Decode(output, threshold)
}

// Label formats the overlay text for a class, e.g. "Class 3 (92%)".
func Label(classIndex int, probability float32) string {
	return fmt.Sprintf("Class %d (%d%%)", classIndex, int(math.Round(float64(probability)*100)))
}
