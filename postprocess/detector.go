package postprocess

import (
	"image"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/preprocess"
)

// Detector defines the struct for single head object detection model
// inference post processing, such as a YOLOv8 model exported to ONNX with a
// [1, 4+classNum, boxesNum] output
type Detector struct {
	// Params are the Model configuration parameters
	Params DetectorParams
	// idGen is a counter that increments and provides the next number
	// for each detection result ID
	idGen *idGenerator
}

// DetectorParams defines the struct containing the Detector parameters to
// use for post processing operations
type DetectorParams struct {
	// BoxThreshold is the minimum probability score required for a bounding box
	// region to be considered for processing
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned
	MaxObjectNumber int
	// KeepClasses is an optional list of class ID's to retain in the
	// results, all other classes detected by the Model are discarded.  An
	// empty list keeps every class.
	KeepClasses []int
}

// DetectorCOCOParams returns an instance of DetectorParams configured with
// default values for a Model trained on the COCO dataset featuring:
// - Object Classes: 80
// - Box Threshold: 0.25
// - NMS Threshold: 0.45
// - Maximum Object Number: 64
func DetectorCOCOParams() DetectorParams {
	return DetectorParams{
		BoxThreshold:    0.25,
		NMSThreshold:    0.45,
		ObjectClassNum:  80,
		MaxObjectNumber: 64,
	}
}

// NewDetector returns an instance of the Detector post processor
func NewDetector(p DetectorParams) *Detector {
	return &Detector{
		Params: p,
		idGen:  newIDGenerator(),
	}
}

// DetectorResult defines a struct used for object detection results
type DetectorResult struct {
	DetectResults []DetectResult
}

// GetDetectResults returns the object detection results containing bounding
// boxes
func (r DetectorResult) GetDetectResults() []DetectResult {
	return r.DetectResults
}

// DetectObjects takes the model outputs and runs the object detection
// process then returns the results with bounding boxes translated back to
// the source image coordinates
func (d *Detector) DetectObjects(outputs *roadsense.Outputs,
	resizer *preprocess.Resizer) DetectionResult {

	if len(outputs.Output) == 0 {
		return DetectorResult{}
	}

	data := newDetectData()

	keep := make(map[int]bool, len(d.Params.KeepClasses))

	for _, c := range d.Params.KeepClasses {
		keep[c] = true
	}

	validCount := d.processOutput(outputs.Output[0], keep, data)

	if validCount <= 0 {
		// no object detected
		return DetectorResult{}
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
			d.Params.NMSThreshold)
	}

	// collate objects into a result for returning
	group := make([]DetectResult, 0)
	lastCount := 0

	for i := 0; i < validCount; i++ {

		if indexArray[i] == -1 || lastCount >= d.Params.MaxObjectNumber {
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
			ID:          d.idGen.getNext(),
		})

		lastCount++
	}

	return DetectorResult{
		DetectResults: group,
	}
}

// processOutput filters the model output for candidate boxes scoring above
// the box threshold.  Candidates of classes outside the keep set are
// discarded before NMS so they never suppress a kept class.
func (d *Detector) processOutput(out roadsense.Output, keep map[int]bool,
	data *detectData) int {

	if len(out.Dims) != 3 {
		return 0
	}

	propSize := int(out.Dims[1])
	boxesNum := int(out.Dims[2])
	classNum := propSize - 4

	if classNum > d.Params.ObjectClassNum {
		classNum = d.Params.ObjectClassNum
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

			if score > d.Params.BoxThreshold && score > maxScore {
				maxScore = score
				maxClassID = c
			}
		}

		if maxClassID == -1 {
			continue
		}

		if len(keep) > 0 && !keep[maxClassID] {
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
