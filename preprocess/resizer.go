// Package preprocess converts source frames into model input tensors.  The
// Resizer letterboxes a frame to the model input size whilst keeping aspect
// ratio and translates resulting boxes back to source pixel coordinates.
package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Resizer defines the struct used for handling image resizing
type Resizer struct {
	// srcWidth is the width of the source image
	srcWidth int
	// srcHeight is the height of the source image
	srcHeight int
	// destWidth is the width to scale to
	destWidth int
	// destHeight is the height to scale to
	destHeight int
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// letterbox parameters used in scaling
	xPad  int
	yPad  int
	scale float32
	// resize dimensions
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling an image to the needed
// dimensions for input tensor size
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}

	// precalculate scaling dimensions
	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// preCalc the scaling factors for source and destination Mats
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	scaleW := float32(r.destWidth) / float32(r.srcWidth)
	scaleH := float32(r.destHeight) / float32(r.srcHeight)
	r.scale = scaleH

	if scaleW < scaleH {
		r.scale = scaleW
		r.resizeH = int(float32(r.srcHeight) * r.scale)
	} else {
		r.resizeW = int(float32(r.srcWidth) * r.scale)
	}

	r.yPad = (r.destHeight - r.resizeH) / 2 // padding height / 2
	r.xPad = (r.destWidth - r.resizeW) / 2  // padding width / 2
}

// LetterBoxResize resizes the input image to the dimensions needed for the
// input tensor size whilst maintaining image aspect.  Color is that used for
// letter box padding.
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, color color.RGBA) {

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, color)
}

// Tensor converts a letterboxed BGR image into the flattened NCHW float32
// input buffer the model sessions consume.  Channel order is RGB and values
// are normalized to [0,1].
func (r *Resizer) Tensor(img gocv.Mat) ([]float32, error) {

	if img.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}

	if img.Channels() != 3 {
		return nil, fmt.Errorf("input image must have 3 channels, got %d",
			img.Channels())
	}

	width := img.Cols()
	height := img.Rows()
	area := width * height

	// operate on the raw bytes, per pixel Mat access over CGO is too slow
	data := img.ToBytes()
	tensor := make([]float32, 3*area)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {

			idx := y*width + x
			pixelPos := idx * 3

			// source is BGR byte order
			tensor[idx] = float32(data[pixelPos+2]) / 255.0
			tensor[area+idx] = float32(data[pixelPos+1]) / 255.0
			tensor[2*area+idx] = float32(data[pixelPos+0]) / 255.0
		}
	}

	return tensor, nil
}

// TranslateBack maps a box in model input coordinates back to source image
// pixel coordinates, reversing the letterbox padding and scale.  The result
// is clamped to the source bounds.
func (r *Resizer) TranslateBack(box image.Rectangle) image.Rectangle {

	x1 := int(float32(box.Min.X-r.xPad) / r.scale)
	y1 := int(float32(box.Min.Y-r.yPad) / r.scale)
	x2 := int(float32(box.Max.X-r.xPad) / r.scale)
	y2 := int(float32(box.Max.Y-r.yPad) / r.scale)

	return image.Rect(
		clampInt(x1, 0, r.srcWidth),
		clampInt(y1, 0, r.srcHeight),
		clampInt(x2, 0, r.srcWidth),
		clampInt(y2, 0, r.srcHeight),
	)
}

// clampInt restricts a value between a minimum and maximum
func clampInt(x, min, max int) int {

	if x < min {
		return min
	} else if x > max {
		return max
	}

	return x
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float32 {
	return r.scale
}

// XPad returns the x padding used in letterbox resize
func (r *Resizer) XPad() int {
	return r.xPad
}

// YPad returns the y padding used in letterbox resize
func (r *Resizer) YPad() int {
	return r.yPad
}

// SrcWidth returns the width of the source image
func (r *Resizer) SrcWidth() int {
	return r.srcWidth
}

// SrcHeight returns the height of the source image
func (r *Resizer) SrcHeight() int {
	return r.srcHeight
}

// DestWidth returns the model input width
func (r *Resizer) DestWidth() int {
	return r.destWidth
}

// DestHeight returns the model input height
func (r *Resizer) DestHeight() int {
	return r.destHeight
}
