package render

import (
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"golang.org/x/image/font/basicfont"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/registry"
	"github.com/swdee/go-roadsense/traffic"
)

// testFrameResult returns a frame result with a vehicle, a person, and a
// traffic light detection on a 200x200 frame
func testFrameResult() *fusion.FrameResult {
	return &fusion.FrameResult{
		Detections: []fusion.Detection{
			{
				ClassID:    0,
				Label:      "vehicle",
				Confidence: 0.91,
				Box:        image.Rect(40, 50, 160, 150),
				Source:     registry.SourcePrimary,
			},
			{
				ClassID:    registry.PersonID,
				Label:      "person",
				Confidence: 0.72,
				Box:        image.Rect(10, 120, 40, 190),
				Source:     registry.SourceAuxiliary,
			},
			{
				ClassID:    registry.TrafficLightID,
				Label:      "traffic light",
				Confidence: 0.65,
				Box:        image.Rect(150, 20, 190, 60),
				Source:     registry.SourceAuxiliary,
			},
		},
		Masks:     make(map[fusion.MaskKind]fusion.SegmentationMask),
		FrameSize: image.Pt(200, 200),
	}
}

func TestLabelText(t *testing.T) {

	res := testFrameResult()

	text := LabelText(res)
	lines := strings.Split(strings.TrimSpace(text), "\n")

	require.Len(t, lines, 3)
	assert.Equal(t, "0 0.500000 0.500000 0.600000 0.500000 0.910000", lines[0])
	assert.Equal(t, "999 0.125000 0.775000 0.150000 0.350000 0.720000", lines[1])

	entries, err := ParseLabelText(text)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, det := range res.Detections {
		assert.Equal(t, det.ClassID, entries[i].ClassID)
		assert.InDelta(t, float64(det.Confidence), entries[i].Confidence, 1e-4)

		cx := float64(det.Box.Min.X+det.Box.Max.X) / 2 / 200
		cy := float64(det.Box.Min.Y+det.Box.Max.Y) / 2 / 200

		assert.InDelta(t, cx, entries[i].CenterX, 1e-4)
		assert.InDelta(t, cy, entries[i].CenterY, 1e-4)
		assert.InDelta(t, float64(det.Box.Dx())/200, entries[i].Width, 1e-4)
		assert.InDelta(t, float64(det.Box.Dy())/200, entries[i].Height, 1e-4)
	}
}

func TestLabelTextDegenerate(t *testing.T) {

	// frame with no dimensions produces no label text
	assert.Equal(t, "", LabelText(&fusion.FrameResult{}))

	// frame with no detections produces no label text
	assert.Equal(t, "", LabelText(&fusion.FrameResult{
		FrameSize: image.Pt(640, 480),
	}))
}

func TestParseLabelTextErrors(t *testing.T) {

	entries, err := ParseLabelText("")
	require.NoError(t, err)
	assert.Len(t, entries, 0)

	_, err = ParseLabelText("1 2 3\n")
	assert.ErrorContains(t, err, "expected 6 fields")

	_, err = ParseLabelText("x 0.1 0.1 0.1 0.1 0.1\n")
	assert.ErrorContains(t, err, "invalid class")

	_, err = ParseLabelText("1 0.1 oops 0.1 0.1 0.1\n")
	assert.ErrorContains(t, err, "invalid value")
}

func TestDetectionBoxes(t *testing.T) {

	img := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := testFrameResult()
	sem := traffic.Semantics{
		PedestrianRisk: true,
		PersonsAtRisk:  []int{1},
		LightColors:    []traffic.LightColor{{Index: 2, Color: traffic.ColorRed}},
	}

	DetectionBoxes(&img, res, sem, registry.NewRegistry(), DefaultStyle())

	// vehicle box edge takes the primary class color
	vecVehicle := img.GetVecbAt(50, 40)
	assert.Equal(t, uint8(56), vecVehicle[0])
	assert.Equal(t, uint8(56), vecVehicle[1])
	assert.Equal(t, uint8(255), vecVehicle[2])

	// at risk person box recolors to the person_on_road state color
	vecPerson := img.GetVecbAt(120, 10)
	assert.Equal(t, uint8(0), vecPerson[0])
	assert.Equal(t, uint8(0), vecPerson[1])
	assert.Equal(t, uint8(255), vecPerson[2])

	// classified light box recolors to the red state color
	vecLight := img.GetVecbAt(20, 150)
	assert.Equal(t, uint8(0), vecLight[0])
	assert.Equal(t, uint8(0), vecLight[1])
	assert.Equal(t, uint8(255), vecLight[2])
}

func TestDetectionBoxesEmpty(t *testing.T) {

	img := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := &fusion.FrameResult{FrameSize: image.Pt(50, 50)}

	DetectionBoxes(&img, res, traffic.Semantics{}, registry.NewRegistry(),
		DefaultStyle())

	assert.Equal(t, make([]byte, 50*50*3), img.ToBytes())
}

func TestSegmentMasks(t *testing.T) {

	img := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer img.Close()

	drivable := make([]uint8, 16)
	for i := range drivable {
		drivable[i] = 1
	}

	// lane covers the top left pixel only
	lane := make([]uint8, 16)
	lane[0] = 1

	res := &fusion.FrameResult{
		Masks: map[fusion.MaskKind]fusion.SegmentationMask{
			fusion.MaskDrivable: {
				Kind: fusion.MaskDrivable, Bitmap: drivable,
				Width: 4, Height: 4,
			},
			fusion.MaskLane: {
				Kind: fusion.MaskLane, Bitmap: lane,
				Width: 4, Height: 4,
			},
		},
		FrameSize: image.Pt(4, 4),
	}

	SegmentMasks(&img, res, registry.NewRegistry(), 1.0)

	// lane paints over the drivable area
	vecLane := img.GetVecbAt(0, 0)
	assert.Equal(t, uint8(0), vecLane[0])
	assert.Equal(t, uint8(0), vecLane[1])
	assert.Equal(t, uint8(255), vecLane[2])

	// remaining pixels take the drivable color
	vecRoad := img.GetVecbAt(2, 2)
	assert.Equal(t, uint8(0), vecRoad[0])
	assert.Equal(t, uint8(255), vecRoad[1])
	assert.Equal(t, uint8(0), vecRoad[2])
}

func TestSegmentMasksSkipped(t *testing.T) {

	img := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer img.Close()

	// mask dimensions disagree with the image so nothing is drawn
	res := &fusion.FrameResult{
		Masks: map[fusion.MaskKind]fusion.SegmentationMask{
			fusion.MaskDrivable: {
				Kind: fusion.MaskDrivable, Bitmap: []uint8{1, 1, 1, 1},
				Width: 2, Height: 2,
			},
		},
		FrameSize: image.Pt(4, 4),
	}

	SegmentMasks(&img, res, registry.NewRegistry(), 1.0)
	assert.Equal(t, make([]byte, 4*4*3), img.ToBytes())

	// no masks present at all
	SegmentMasks(&img, &fusion.FrameResult{FrameSize: image.Pt(4, 4)},
		registry.NewRegistry(), 1.0)
	assert.Equal(t, make([]byte, 4*4*3), img.ToBytes())
}

func TestBanners(t *testing.T) {

	img := gocv.NewMatWithSize(100, 120, gocv.MatTypeCV8UC3)
	defer img.Close()

	sem := traffic.Semantics{
		PedestrianRisk: true,
		PersonsAtRisk:  []int{1},
		LightColors:    []traffic.LightColor{{Index: 2, Color: traffic.ColorRed}},
	}

	res := testFrameResult()
	res.InferenceTimeMs = 12.3

	Banners(&img, sem, res, DefaultStyle())

	// two warning lines stacked on top plus one info line below
	assert.Equal(t, 100+2*40+40, img.Rows())
	assert.Equal(t, 120, img.Cols())

	// warning banner background is dark red
	vecWarn := img.GetVecbAt(0, 0)
	assert.Equal(t, uint8(0), vecWarn[0])
	assert.Equal(t, uint8(0), vecWarn[1])
	assert.Equal(t, uint8(139), vecWarn[2])

	// info banner background is dark gray
	vecInfo := img.GetVecbAt(img.Rows()-1, 0)
	assert.Equal(t, uint8(60), vecInfo[0])
	assert.Equal(t, uint8(60), vecInfo[1])
	assert.Equal(t, uint8(60), vecInfo[2])
}

func TestBannersTTFFace(t *testing.T) {

	img := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer img.Close()

	sem := traffic.Semantics{
		PedestrianRisk: true,
		PersonsAtRisk:  []int{1},
		LightColors:    []traffic.LightColor{{Index: 2, Color: traffic.ColorRed}},
	}

	res := testFrameResult()

	style := DefaultStyle()
	style.Face = basicfont.Face7x13

	Banners(&img, sem, res, style)

	// banner stacking is unchanged by the face
	require.Equal(t, 100+2*40+40, img.Rows())

	// glyph pixels must appear over the warning banner background
	var glyphs int

	for row := 0; row < 2*40; row++ {
		for col := 0; col < img.Cols(); col++ {
			vec := img.GetVecbAt(row, col)

			if vec[0] != 0 || vec[1] != 0 || vec[2] != 139 {
				glyphs++
			}
		}
	}

	assert.Greater(t, glyphs, 0)
}

func TestLoadFontFaceMissing(t *testing.T) {

	_, err := LoadFontFace("no-such-font.ttf", TTFFontSize)
	assert.ErrorContains(t, err, "failed to load font")
}

func TestBannersNoWarnings(t *testing.T) {

	img := gocv.NewMatWithSize(50, 60, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := &fusion.FrameResult{FrameSize: image.Pt(60, 50)}

	Banners(&img, traffic.Semantics{}, res, DefaultStyle())

	// info banner only, no warning lines
	assert.Equal(t, 50+40, img.Rows())
	assert.Equal(t, 60, img.Cols())
}
