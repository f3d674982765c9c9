package traffic

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/registry"
)

// solidMat creates a single color BGR test image
func solidMat(b, g, r float64, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0),
		h, w, gocv.MatTypeCV8UC3)
}

// stripMask builds a frame sized drivable mask covering the rows from yTop
// down to the bottom of the frame
func stripMask(w, h, yTop int) fusion.SegmentationMask {

	bitmap := make([]uint8, w*h)

	for y := yTop; y < h; y++ {
		for x := 0; x < w; x++ {
			bitmap[y*w+x] = 1
		}
	}

	return fusion.SegmentationMask{
		Kind:   fusion.MaskDrivable,
		Bitmap: bitmap,
		Width:  w,
		Height: h,
	}
}

func TestClassifyLight(t *testing.T) {

	tests := []struct {
		name    string
		b, g, r float64
		want    Color
	}{
		{"red", 0, 0, 255, ColorRed},
		{"green", 0, 255, 0, ColorGreen},
		{"yellow", 0, 255, 255, ColorYellow},
		{"gray", 128, 128, 128, ColorUnknown},
		{"blue", 255, 0, 0, ColorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			frame := solidMat(tt.b, tt.g, tt.r, 50, 50)
			defer frame.Close()

			got := ClassifyLight(frame, image.Rect(5, 5, 45, 45))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyLightDegenerate(t *testing.T) {

	frame := solidMat(0, 0, 255, 50, 50)
	defer frame.Close()

	// box entirely outside the frame
	assert.Equal(t, ColorUnknown,
		ClassifyLight(frame, image.Rect(100, 100, 200, 200)))

	// zero area box
	assert.Equal(t, ColorUnknown,
		ClassifyLight(frame, image.Rect(10, 10, 10, 40)))

	empty := gocv.NewMat()
	defer empty.Close()

	assert.Equal(t, ColorUnknown,
		ClassifyLight(empty, image.Rect(0, 0, 10, 10)))
}

func TestAnalyzePedestrianRisk(t *testing.T) {

	frame := solidMat(0, 0, 0, 200, 200)
	defer frame.Close()

	res := &fusion.FrameResult{
		Detections: []fusion.Detection{
			{ClassID: 0, Label: "vehicle",
				Box: image.Rect(10, 10, 60, 60)},
			// foot point (100, 140) is outside the raw mask but inside
			// the inflated area
			{ClassID: registry.PersonID, Label: "person",
				Box: image.Rect(90, 100, 110, 140)},
			// foot point in the upper half of the frame
			{ClassID: registry.PersonID, Label: "person",
				Box: image.Rect(90, 20, 110, 60)},
			// foot point directly inside the mask
			{ClassID: registry.PersonID, Label: "person",
				Box: image.Rect(20, 160, 40, 195)},
		},
		Masks: map[fusion.MaskKind]fusion.SegmentationMask{
			fusion.MaskDrivable: stripMask(200, 200, 150),
		},
		FrameSize: image.Pt(200, 200),
	}

	a := NewAnalyzer(registry.NewRegistry())
	sem := a.Analyze(frame, res)

	assert.True(t, sem.PedestrianRisk)
	assert.Equal(t, []int{1, 3}, sem.PersonsAtRisk)
	assert.True(t, sem.AtRisk(1))
	assert.False(t, sem.AtRisk(2))
	assert.Empty(t, sem.LightColors)
}

func TestAnalyzeNoMaskNoRisk(t *testing.T) {

	frame := solidMat(0, 0, 0, 200, 200)
	defer frame.Close()

	res := &fusion.FrameResult{
		Detections: []fusion.Detection{
			{ClassID: registry.PersonID, Label: "person",
				Box: image.Rect(20, 160, 40, 195)},
		},
		Masks:     map[fusion.MaskKind]fusion.SegmentationMask{},
		FrameSize: image.Pt(200, 200),
	}

	a := NewAnalyzer(registry.NewRegistry())
	sem := a.Analyze(frame, res)

	assert.False(t, sem.PedestrianRisk)
	assert.Empty(t, sem.PersonsAtRisk)
}

func TestAnalyzeLights(t *testing.T) {

	frame := solidMat(0, 0, 0, 200, 200)
	defer frame.Close()

	// red light region
	gocv.Rectangle(&frame, image.Rect(150, 20, 190, 60),
		color.RGBA{R: 255, A: 255}, -1)

	res := &fusion.FrameResult{
		Detections: []fusion.Detection{
			{ClassID: registry.TrafficLightID, Label: "traffic light",
				Box: image.Rect(150, 20, 190, 60)},
		},
		Masks:     map[fusion.MaskKind]fusion.SegmentationMask{},
		FrameSize: image.Pt(200, 200),
	}

	a := NewAnalyzer(registry.NewRegistry())
	sem := a.Analyze(frame, res)

	require.Len(t, sem.LightColors, 1)
	assert.Equal(t, LightColor{Index: 0, Color: ColorRed}, sem.LightColors[0])

	c, ok := sem.LightAt(0)
	assert.True(t, ok)
	assert.Equal(t, ColorRed, c)

	assert.True(t, sem.RedLight())
	assert.Contains(t, sem.Warnings(), "Red light detected")
}

func TestSemanticsSummary(t *testing.T) {

	sem := Semantics{
		PedestrianRisk: true,
		PersonsAtRisk:  []int{1},
		LightColors: []LightColor{
			{Index: 2, Color: ColorRed},
			{Index: 3, Color: ColorGreen},
		},
	}

	res := &fusion.FrameResult{
		Detections:      make([]fusion.Detection, 4),
		InferenceTimeMs: 12.34,
	}

	assert.Equal(t, []string{
		"Pedestrian on road!",
		"Red light detected",
	}, sem.Warnings())

	assert.Equal(t, []string{
		"detections: 4",
		"lights: red, green",
		"persons on road: 1",
		"inference: 12.3ms",
	}, sem.InfoItems(res))
}

func TestSafetyMargin(t *testing.T) {

	// floor of 30 for small frames
	assert.Equal(t, 30, safetyMargin(200, 200))

	// 5% of the smaller dimension for large frames
	assert.Equal(t, 54, safetyMargin(1920, 1080))
}
