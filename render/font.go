package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TTFFontSize is the point size banner text is rendered at when a TTF face
// is loaded
const TTFFontSize = 20

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering text on an image using GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding to place around text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the text label to the bounding box
	Alignment Alignment
}

// DefaultFont returns default font settings used for detection labels
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.45,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   2,
		RightPad:  2,
		TopPad:    2,
		BottomPad: 2,
		Alignment: Left,
	}
}

// LoadFontFace loads the TTF font at the given path and creates a type face
// for banner text.  Use this for character sets the built in Hershey fonts
// cannot draw.
func LoadFontFace(fontPath string, size float64) (font.Face, error) {

	// load font data
	fontBytes, err := os.ReadFile(fontPath)

	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	// parse the font
	f, err := opentype.Parse(fontBytes)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	// create a type face
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	return face, nil
}

// faceText writes text onto the image at the given baseline point using the
// type face
func faceText(img *gocv.Mat, face font.Face, text string, x, y int,
	clr color.RGBA) error {

	// create image with text writing
	rgba := image.NewRGBA(image.Rect(0, 0, img.Cols(), img.Rows()))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 0}),
		image.Point{}, draw.Src)

	dr := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(clr),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(x * 64),
			Y: fixed.Int26_6(y * 64),
		},
	}
	dr.DrawString(text)

	// Convert image.RGBA to gocv.Mat
	imgRGBA, err := gocv.NewMatFromBytes(rgba.Bounds().Dy(),
		rgba.Bounds().Dx(), gocv.MatTypeCV8UC4, rgba.Pix)

	if imgRGBA.Empty() || err != nil {
		return fmt.Errorf("error creating Mat from RGBA")
	}

	defer imgRGBA.Close()

	gocv.CvtColor(imgRGBA, &imgRGBA, gocv.ColorRGBAToBGR)
	gocv.AddWeighted(*img, 1.0, imgRGBA, 1.0, 0, img)

	return nil
}

// Style carries the drawing parameters shared by the renderer functions
type Style struct {
	// Font used for detection labels
	Font Font
	// Face is an optional TTF type face used for banner text.  When nil the
	// banners fall back to the built in Hershey fonts.
	Face font.Face
	// BoxThickness is the bounding box line thickness
	BoxThickness int
	// MaskAlpha is the segment mask overlay transparency
	MaskAlpha float32
	// BannerHeight is the pixel height of one banner line
	BannerHeight int
	// WarningBG is the warning banner background color
	WarningBG color.RGBA
	// InfoBG is the status banner background color
	InfoBG color.RGBA
}

// DefaultStyle returns the default drawing style
func DefaultStyle() Style {
	return Style{
		Font:         DefaultFont(),
		BoxThickness: 2,
		MaskAlpha:    0.3,
		BannerHeight: 40,
		WarningBG:    color.RGBA{R: 139, A: 255},
		InfoBG:       color.RGBA{R: 60, G: 60, B: 60, A: 255},
	}
}
