package traffic

import (
	"image"

	"gocv.io/x/gocv"
)

// Color is the classified state of a traffic light
type Color int

const (
	// ColorUnknown is returned for lights that cannot be classified
	ColorUnknown Color = iota
	// ColorRed light state
	ColorRed
	// ColorYellow light state
	ColorYellow
	// ColorGreen light state
	ColorGreen
)

// String returns the color name.  The names double as registry state color
// keys.
func (c Color) String() string {

	switch c {
	case ColorRed:
		return "red"
	case ColorYellow:
		return "yellow"
	case ColorGreen:
		return "green"
	}

	return "unknown"
}

// ClassifyLight determines the color of a traffic light by counting HSV
// pixels of the box region in fixed hue bands.  The dominant band wins when
// its count reaches at least max(10, 1%) of the region pixels, otherwise
// the light classifies ColorUnknown.  Ties break red over yellow over
// green.
func ClassifyLight(frame gocv.Mat, box image.Rectangle) Color {

	if frame.Empty() {
		return ColorUnknown
	}

	roi := box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))

	if roi.Empty() {
		return ColorUnknown
	}

	crop := frame.Region(roi)
	defer crop.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()

	gocv.CvtColor(crop, &hsv, gocv.ColorBGRToHSV)

	data := hsv.ToBytes()

	var redCount, yellowCount, greenCount int

	for i := 0; i+2 < len(data); i += 3 {

		h := data[i]
		s := data[i+1]
		v := data[i+2]

		// red wraps around the hue circle
		if (h <= 10 || h >= 160) && s >= 70 && v >= 70 {
			redCount++
		}

		if h >= 15 && h <= 40 && s >= 70 && v >= 70 {
			yellowCount++
		}

		if h >= 35 && h <= 95 && s >= 40 && v >= 40 {
			greenCount++
		}
	}

	total := roi.Dx() * roi.Dy()
	minPixels := total / 100

	if minPixels < 10 {
		minPixels = 10
	}

	winner := ColorRed
	count := redCount

	if yellowCount > count {
		winner = ColorYellow
		count = yellowCount
	}

	if greenCount > count {
		winner = ColorGreen
		count = greenCount
	}

	if count < minPixels {
		return ColorUnknown
	}

	return winner
}
