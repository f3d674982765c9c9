package pipeline

import (
	"image"

	"github.com/swdee/go-roadsense"
)

// Tensor names of the supported model exports.  The primary multi-task
// model follows the YOLOP style ONNX export with a detection head and two
// segmentation heads, the auxiliary detector is a standard YOLOv8 export.
const (
	modelInputName = "images"
	auxOutputName  = "output0"
)

var primaryOutputNames = []string{"det_out", "drive_area_seg", "lane_line_seg"}

// cocoClassNum is the class count of the auxiliary detector's training set
const cocoClassNum = 80

// boxCount returns the number of candidate boxes an anchor free detection
// head produces for the given input size, one per grid cell at strides 8,
// 16 and 32
func boxCount(size image.Point) int64 {
	var n int64

	for _, stride := range []int{8, 16, 32} {
		n += int64((size.X / stride) * (size.Y / stride))
	}

	return n
}

// PrimaryModelOptions returns the runtime options matching the primary
// multi-task model's export contract for the given input size and detection
// class count
func PrimaryModelOptions(size image.Point, classes int,
	device roadsense.Device) roadsense.RuntimeOptions {

	return roadsense.RuntimeOptions{
		Device:      device,
		InputName:   modelInputName,
		OutputNames: primaryOutputNames,
		InputShape:  []int64{1, 3, int64(size.Y), int64(size.X)},
		OutputShapes: [][]int64{
			{1, int64(4 + classes), boxCount(size)},
			{1, 2, int64(size.Y), int64(size.X)},
			{1, 2, int64(size.Y), int64(size.X)},
		},
	}
}

// AuxiliaryModelOptions returns the runtime options matching the auxiliary
// detector's export contract for the given input size
func AuxiliaryModelOptions(size image.Point,
	device roadsense.Device) roadsense.RuntimeOptions {

	return roadsense.RuntimeOptions{
		Device:      device,
		InputName:   modelInputName,
		OutputNames: []string{auxOutputName},
		InputShape:  []int64{1, 3, int64(size.Y), int64(size.X)},
		OutputShapes: [][]int64{
			{1, 4 + cocoClassNum, boxCount(size)},
		},
	}
}
