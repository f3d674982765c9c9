package render

import (
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/registry"
)

// maskOrder fixes the overlay order so lane markings paint over the drivable
// area where the two masks overlap
var maskOrder = []fusion.MaskKind{fusion.MaskDrivable, fusion.MaskLane}

// SegmentMasks renders the drivable area and lane masks as a transparent
// overlay on top of the whole image.  Mask colors come from the registry
// state colors keyed by the mask kind name.
func SegmentMasks(img *gocv.Mat, res *fusion.FrameResult,
	reg *registry.Registry, alpha float32) {

	// get dimensions
	width := img.Cols()
	height := img.Rows()

	// it is too slow to manipulate pixel by pixel using GoCV due to slowness
	// over CGO.  So we copy the bytes from the source image and manipulate
	// the bytes directly before copying back to a Mat
	imgData := img.ToBytes()

	blended := false

	for _, kind := range maskOrder {

		mask, ok := res.Mask(kind)

		if !ok || mask.Width != width || mask.Height != height {
			continue
		}

		clr := reg.StateColor(kind.String())

		// iterate over each pixel in the segmentation mask
		for j := 0; j < height; j++ {
			for k := 0; k < width; k++ {

				if mask.Bitmap[j*width+k] == 0 {
					continue
				}

				// calculate position in the byte slice
				pixelPos := j*width*3 + k*3

				// get original pixel colors directly from the byte slice
				b, g, r := imgData[pixelPos+0], imgData[pixelPos+1], imgData[pixelPos+2]

				// calculate blended colors based on alpha transparency
				imgData[pixelPos+0] = uint8(float32(b)*(1-alpha) + float32(clr.B)*alpha)
				imgData[pixelPos+1] = uint8(float32(g)*(1-alpha) + float32(clr.G)*alpha)
				imgData[pixelPos+2] = uint8(float32(r)*(1-alpha) + float32(clr.R)*alpha)
			}
		}

		blended = true
	}

	if !blended {
		return
	}

	// copy back to the original mat
	tmpImg, _ := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, imgData)
	defer tmpImg.Close()
	tmpImg.CopyTo(img)
}
