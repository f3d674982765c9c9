package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/registry"
	"github.com/swdee/go-roadsense/traffic"
)

// boxLabel defines where a detection label should be rendered on the source
// image
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// DetectionBoxes renders the bounding boxes around the detected objects.
// Persons flagged at risk draw in the person_on_road state color with an
// "on road" label suffix, classified traffic lights draw in their light
// state color with the color name appended.
func DetectionBoxes(img *gocv.Mat, res *fusion.FrameResult,
	sem traffic.Semantics, reg *registry.Registry, style Style) {

	font := style.Font

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0)

	// draw detection boxes
	for i, det := range res.Detections {

		useClr := White
		label := det.Label

		if cls, ok := reg.Lookup(det.ClassID); ok {
			useClr = cls.Color
		}

		if det.ClassID == registry.PersonID && sem.AtRisk(i) {
			useClr = reg.StateColor("person_on_road")
			label = det.Label + " on road"
		}

		if state, ok := sem.LightAt(i); ok {
			useClr = reg.StateColor(state.String())
			label = det.Label + " " + state.String()
		}

		// draw rectangle around detected object
		gocv.Rectangle(img, det.Box, useClr, style.BoxThickness)

		// create text for label
		text := fmt.Sprintf("%s %.2f", label, det.Confidence)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale,
			font.Thickness)

		// Calculate the alignment of text label
		var centerX int

		switch font.Alignment {
		case Center:
			centerX = (det.Box.Min.X + det.Box.Max.X) / 2

		case Right:
			centerX = det.Box.Max.X - (textSize.X / 2) - font.RightPad +
				(style.BoxThickness / 2)

		case Left:
			fallthrough
		default:
			centerX = det.Box.Min.X + (textSize.X / 2) + font.LeftPad -
				(style.BoxThickness / 2)
		}

		// Adjust the label position so the text is centered horizontally
		labelPosition := image.Pt(centerX-textSize.X/2,
			det.Box.Min.Y-font.BottomPad)

		// create box for placing text on
		bRect := image.Rect(centerX-textSize.X/2-font.LeftPad,
			det.Box.Min.Y-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, det.Box.Min.Y)

		// record label rendering details
		boxLabels = append(boxLabels, boxLabel{
			rect:    bRect,
			clr:     useClr,
			text:    text,
			textPos: labelPosition,
		})
	}

	// draw all precalculated box labels so they are the top most layer on the
	// image and don't get overlapped by neighbouring boxes
	for _, box := range boxLabels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// Draw the label over box
		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}
