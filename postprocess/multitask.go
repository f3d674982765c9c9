package postprocess

import (
	"image"
	"math"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/preprocess"
	"gocv.io/x/gocv"
)

// output tensor indexes of the multi-task model heads
const (
	headDetect   = 0
	headDrivable = 1
	headLane     = 2
)

// MultiTask defines the struct for multi-task driving model inference post
// processing.  The model has three output heads, an object detection head
// for vehicles plus two channel segmentation heads for the drivable road
// area and lane line markings.
type MultiTask struct {
	// Params are the Model configuration parameters
	Params MultiTaskParams
	// idGen is a counter that increments and provides the next number
	// for each detection result ID
	idGen *idGenerator
}

// MultiTaskParams defines the struct containing the MultiTask parameters to
// use for post processing operations
type MultiTaskParams struct {
	// BoxThreshold is the minimum probability score required for a bounding box
	// region to be considered for processing
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes for both to be kept
	NMSThreshold float32
	// MaskThreshold is the minimum foreground probability for a pixel to be
	// included in a segmentation mask.  Values outside (0,1) fall back to a
	// plain argmax over the two channels, equivalent to 0.5
	MaskThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned
	MaxObjectNumber int
}

// MultiTaskBDDParams returns an instance of MultiTaskParams configured with
// default values for a Model trained on the BDD100K dataset featuring:
// - Object Classes: 1 (vehicle)
// - Box Threshold: 0.25
// - NMS Threshold: 0.45
// - Mask Threshold: 0.45
// - Maximum Object Number: 64
func MultiTaskBDDParams() MultiTaskParams {
	return MultiTaskParams{
		BoxThreshold:    0.25,
		NMSThreshold:    0.45,
		MaskThreshold:   0.45,
		ObjectClassNum:  1,
		MaxObjectNumber: 64,
	}
}

// NewMultiTask returns an instance of the MultiTask post processor
func NewMultiTask(p MultiTaskParams) *MultiTask {
	return &MultiTask{
		Params: p,
		idGen:  newIDGenerator(),
	}
}

// MultiTaskResult defines a struct used for object detection results
type MultiTaskResult struct {
	DetectResults []DetectResult
}

// GetDetectResults returns the object detection results containing bounding
// boxes
func (r MultiTaskResult) GetDetectResults() []DetectResult {
	return r.DetectResults
}

// DetectObjects takes the model outputs and decodes the detection head then
// returns the results with bounding boxes translated back to the source
// image coordinates
func (m *MultiTask) DetectObjects(outputs *roadsense.Outputs,
	resizer *preprocess.Resizer) DetectionResult {

	if len(outputs.Output) <= headDetect {
		return MultiTaskResult{}
	}

	data := newDetectData()

	validCount := m.processDetectHead(outputs.Output[headDetect], data)

	if validCount <= 0 {
		// no object detected
		return MultiTaskResult{}
	}

	// indexArray is used to keep an index of detect objects contained in
	// the "data" variable
	var indexArray []int

	for i := 0; i < validCount; i++ {
		indexArray = append(indexArray, i)
	}

	quickSortIndiceInverse(data.objProbs, 0, validCount-1, indexArray)

	// create a unique set of ClassID (ie: eliminate any multiples found)
	classSet := make(map[int]bool)

	for _, id := range data.classID {
		classSet[id] = true
	}

	// for each classID in the classSet calculate the NMS
	for c := range classSet {
		nms(validCount, data.filterBoxes, data.classID, indexArray, c,
			m.Params.NMSThreshold)
	}

	// collate objects into a result for returning
	group := make([]DetectResult, 0)
	lastCount := 0

	for i := 0; i < validCount; i++ {

		if indexArray[i] == -1 || lastCount >= m.Params.MaxObjectNumber {
			continue
		}

		n := indexArray[i]

		x1 := data.filterBoxes[n*4+0]
		y1 := data.filterBoxes[n*4+1]
		x2 := x1 + data.filterBoxes[n*4+2]
		y2 := y1 + data.filterBoxes[n*4+3]

		box := resizer.TranslateBack(
			image.Rect(int(x1), int(y1), int(x2), int(y2)))

		group = append(group, DetectResult{
			Box: BoxRect{
				Left:   box.Min.X,
				Top:    box.Min.Y,
				Right:  box.Max.X,
				Bottom: box.Max.Y,
			},
			Probability: data.objProbs[i],
			Class:       data.classID[n],
			ID:          m.idGen.getNext(),
		})

		lastCount++
	}

	return MultiTaskResult{
		DetectResults: group,
	}
}

// processDetectHead filters the detection head output for candidate boxes
// scoring above the box threshold.  The head layout is [1, 4+classNum,
// boxesNum] with box values in center x, center y, width, and height form
// at model input coordinates.
func (m *MultiTask) processDetectHead(out roadsense.Output,
	data *detectData) int {

	if len(out.Dims) != 3 {
		return 0
	}

	propSize := int(out.Dims[1])
	boxesNum := int(out.Dims[2])
	classNum := propSize - 4

	if classNum > m.Params.ObjectClassNum {
		classNum = m.Params.ObjectClassNum
	}

	if classNum <= 0 || len(out.BufFloat) < propSize*boxesNum {
		return 0
	}

	buf := out.BufFloat
	validCount := 0

	for i := 0; i < boxesNum; i++ {

		maxScore := float32(0)
		maxClassID := -1

		for c := 0; c < classNum; c++ {
			score := buf[(4+c)*boxesNum+i]

			if score > m.Params.BoxThreshold && score > maxScore {
				maxScore = score
				maxClassID = c
			}
		}

		if maxClassID == -1 {
			continue
		}

		cx := buf[0*boxesNum+i]
		cy := buf[1*boxesNum+i]
		w := buf[2*boxesNum+i]
		h := buf[3*boxesNum+i]

		x1 := cx - w/2
		y1 := cy - h/2

		data.filterBoxes = append(data.filterBoxes, x1, y1, w, h)
		data.objProbs = append(data.objProbs, maxScore)
		data.classID = append(data.classID, maxClassID)
		validCount++
	}

	return validCount
}

// DrivableMask creates the binary segment mask of the drivable road area at
// the source image resolution
func (m *MultiTask) DrivableMask(outputs *roadsense.Outputs,
	resizer *preprocess.Resizer) SegMask {
	return m.segmentMask(outputs, headDrivable, resizer)
}

// LaneMask creates the binary segment mask of the lane line markings at the
// source image resolution
func (m *MultiTask) LaneMask(outputs *roadsense.Outputs,
	resizer *preprocess.Resizer) SegMask {
	return m.segmentMask(outputs, headLane, resizer)
}

// segmentMask converts a two channel segmentation head output into a binary
// mask and reverses the letterbox resize so the mask lines up with the
// source image.  An empty mask is returned when the output tensor is
// missing or malformed.
func (m *MultiTask) segmentMask(outputs *roadsense.Outputs, head int,
	resizer *preprocess.Resizer) SegMask {

	if head >= len(outputs.Output) {
		return SegMask{}
	}

	out := outputs.Output[head]

	if len(out.Dims) != 4 || out.Dims[1] != 2 {
		return SegMask{}
	}

	segH := int(out.Dims[2])
	segW := int(out.Dims[3])
	area := segH * segW

	if area <= 0 || len(out.BufFloat) < 2*area {
		return SegMask{}
	}

	// a pixel is foreground when its softmax probability over the two
	// channels clears the mask threshold, compared in logit space
	margin := float32(0)

	if t := m.Params.MaskThreshold; t > 0 && t < 1 {
		margin = float32(math.Log(float64(t) / (1 - float64(t))))
	}

	bin := make([]uint8, area)

	for i := 0; i < area; i++ {
		if out.BufFloat[area+i]-out.BufFloat[i] > margin {
			bin[i] = 1
		}
	}

	mask, err := gocv.NewMatFromBytes(segH, segW, gocv.MatTypeCV8U, bin)

	if err != nil {
		return SegMask{}
	}

	modelW := resizer.DestWidth()
	modelH := resizer.DestHeight()

	// upsample to the model input dimensions when the head runs at a
	// reduced resolution.  nearest neighbour keeps the mask binary.
	if segW != modelW || segH != modelH {
		resized := gocv.NewMat()
		gocv.Resize(mask, &resized, image.Pt(modelW, modelH), 0, 0,
			gocv.InterpolationNearestNeighbor)
		mask.Close()
		mask = resized
	}

	// crop away the letterbox padding
	crop := mask.Region(image.Rect(resizer.XPad(), resizer.YPad(),
		modelW-resizer.XPad(), modelH-resizer.YPad()))

	// scale up to the source image size
	realMat := gocv.NewMat()
	gocv.Resize(crop, &realMat, image.Pt(resizer.SrcWidth(),
		resizer.SrcHeight()), 0, 0, gocv.InterpolationNearestNeighbor)

	realMask := realMat.ToBytes()

	realMat.Close()
	crop.Close()
	mask.Close()

	return SegMask{realMask}
}
