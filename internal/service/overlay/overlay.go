// Package overlay draws frame labels and encodes the result for viewers.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"edgeclassifier/internal/model"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned for frames without image data.
var ErrEmptyFrame = errors.New("overlay: empty frame")

var labelColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}

// Anchor converts a relative label position to pixel coordinates.
func Anchor(l model.Label, cols, rows int) image.Point {
	return image.Pt(int(l.X*float64(cols)), int(l.Y*float64(rows)))
}

// Render draws the labels of frame on a copy of its image and returns it as
// JPEG. The frame itself is left untouched.
func Render(frame *model.Frame) ([]byte, error) {
	if frame.Image.Empty() {
		return nil, ErrEmptyFrame
	}

	mat := frame.Image.Clone()
	defer mat.Close()

	scale := float64(mat.Rows()) / 720
	if scale < 0.4 {
		scale = 0.4
	}
	for _, l := range frame.Labels() {
		err := gocv.PutText(&mat, l.Text, Anchor(l, mat.Cols(), mat.Rows()), gocv.FontHersheySimplex, scale, labelColor, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
