// Package fusion merges the raw outputs of the primary multi-task model and
// the auxiliary detector into a single frame level result.
//
// Primary detections keep their native order and come first, auxiliary
// detections are remapped into the unified class taxonomy and appended after
// them.  The two label spaces are disjoint so no spatial deduplication is
// performed between the models.
package fusion

import (
	"fmt"
	"image"
	"time"

	"github.com/swdee/go-roadsense/postprocess"
	"github.com/swdee/go-roadsense/registry"
)

// MaskKind identifies a segmentation overlay produced by the primary model.
// The enum order is the renderer draw order, drivable below lane.
type MaskKind int

const (
	// MaskDrivable is the drivable road area mask
	MaskDrivable MaskKind = iota
	// MaskLane is the lane line markings mask
	MaskLane
)

// String returns the mask kind name.  The names double as registry state
// color keys.
func (k MaskKind) String() string {

	switch k {
	case MaskDrivable:
		return "drivable"
	case MaskLane:
		return "lane"
	}

	return "unknown"
}

// Detection is a single fused object detection in source pixel coordinates
type Detection struct {
	// ClassID is the unified class id from the registry
	ClassID int
	// Label is the human readable class name
	Label string
	// Confidence is the detection confidence score
	Confidence float32
	// Box is the bounding box clipped to the frame bounds
	Box image.Rectangle
	// Source records which model produced the detection
	Source registry.Source
}

// SegmentationMask is a binary mask at frame resolution.  Bitmap is stored
// in row major order with nonzero values marking foreground pixels.
type SegmentationMask struct {
	Kind   MaskKind
	Bitmap []uint8
	Width  int
	Height int
}

// At reports whether the mask foreground covers the given pixel.  Points
// outside the mask bounds are background.
func (m SegmentationMask) At(x, y int) bool {

	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}

	return m.Bitmap[y*m.Width+x] != 0
}

// FrameResult is the fused output of one frame's inference passes.  It is
// immutable once returned by Fuse, consumers take read only views.
type FrameResult struct {
	// Detections holds the primary model detections first, in the primary
	// model's native order, followed by the auxiliary detections in the
	// auxiliary model's native order
	Detections []Detection
	// Masks holds at most one segmentation mask per kind
	Masks map[MaskKind]SegmentationMask
	// FrameSize is the source image dimensions
	FrameSize image.Point
	// InferenceTimeMs is the wall time of the inference passes in
	// milliseconds
	InferenceTimeMs float64
	// PrimaryModel is the primary model file path
	PrimaryModel string
	// AuxiliaryModel is the auxiliary model file path, empty when the
	// auxiliary model was not run
	AuxiliaryModel string
}

// Mask returns the segmentation mask of the given kind if present
func (r *FrameResult) Mask(kind MaskKind) (SegmentationMask, bool) {
	m, ok := r.Masks[kind]
	return m, ok
}

// FuseInput carries the raw model outputs of one frame into Fuse
type FuseInput struct {
	// Primary holds the primary model detections with primary class ids
	Primary []postprocess.DetectResult
	// Drivable and Lane are the segmentation masks at source resolution,
	// nil when the model produced none
	Drivable *postprocess.SegMask
	Lane     *postprocess.SegMask
	// Auxiliary holds the auxiliary model detections with the auxiliary
	// model's raw class ids
	Auxiliary []postprocess.DetectResult
	// FrameSize is the source image dimensions
	FrameSize image.Point
	// Registry resolves raw class ids into the unified taxonomy
	Registry *registry.Registry
	// InferenceTime is the wall time of the inference passes
	InferenceTime time.Duration
	// PrimaryModel and AuxiliaryModel are the model file paths recorded
	// on the result
	PrimaryModel   string
	AuxiliaryModel string
}

// Fuse merges the raw detections and masks of one frame into a FrameResult.
// Boxes are clipped to the frame bounds and detections whose box clips to
// zero area are dropped without reordering the survivors.  An auxiliary
// class id missing from the registry mapping aborts the fuse so a
// model/registry version mismatch is never silently dropped.
func Fuse(in FuseInput) (*FrameResult, error) {

	if in.Registry == nil {
		return nil, fmt.Errorf("fuse requires a registry")
	}

	res := &FrameResult{
		Detections: make([]Detection, 0,
			len(in.Primary)+len(in.Auxiliary)),
		Masks:           make(map[MaskKind]SegmentationMask),
		FrameSize:       in.FrameSize,
		InferenceTimeMs: float64(in.InferenceTime) / float64(time.Millisecond),
		PrimaryModel:    in.PrimaryModel,
		AuxiliaryModel:  in.AuxiliaryModel,
	}

	for _, det := range in.Primary {

		cls, err := in.Registry.Resolve(det.Class, registry.SourcePrimary)

		if err != nil {
			return nil, fmt.Errorf("resolving primary detection: %w", err)
		}

		res.append(cls, det, registry.SourcePrimary)
	}

	for _, det := range in.Auxiliary {

		cls, err := in.Registry.Resolve(det.Class, registry.SourceAuxiliary)

		if err != nil {
			return nil, fmt.Errorf("resolving auxiliary detection: %w", err)
		}

		res.append(cls, det, registry.SourceAuxiliary)
	}

	res.addMask(MaskDrivable, in.Drivable)
	res.addMask(MaskLane, in.Lane)

	return res, nil
}

// append clips the detection box to the frame bounds and adds it to the
// result.  A box that clips to zero area is dropped.
func (r *FrameResult) append(cls registry.Class,
	det postprocess.DetectResult, src registry.Source) {

	box := image.Rect(det.Box.Left, det.Box.Top, det.Box.Right,
		det.Box.Bottom).Intersect(image.Rect(0, 0, r.FrameSize.X,
		r.FrameSize.Y))

	if box.Empty() {
		return
	}

	r.Detections = append(r.Detections, Detection{
		ClassID:    cls.ID,
		Label:      cls.Label,
		Confidence: det.Probability,
		Box:        box,
		Source:     src,
	})
}

// addMask stores the mask under its kind.  A nil or empty mask leaves the
// kind absent, and a bitmap that does not cover the frame is ignored.
// Writing the same kind again replaces the earlier mask.
func (r *FrameResult) addMask(kind MaskKind, mask *postprocess.SegMask) {

	if mask == nil || len(mask.Mask) == 0 {
		return
	}

	if len(mask.Mask) != r.FrameSize.X*r.FrameSize.Y {
		return
	}

	r.Masks[kind] = SegmentationMask{
		Kind:   kind,
		Bitmap: mask.Mask,
		Width:  r.FrameSize.X,
		Height: r.FrameSize.Y,
	}
}
