package preprocess

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

var (
	black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

func TestLetterBoxResize(t *testing.T) {

	tests := []struct {
		srcWidth      int
		srcHeight     int
		resizeWidth   int
		resizeHeight  int
		expectedXPad  int
		expectedYPad  int
		expectedScale float32
	}{
		{1280, 720, 640, 640, 0, 140, 0.50},
		{800, 1000, 640, 640, 64, 0, 0.64},
		{800, 800, 640, 640, 0, 0, 0.8},
	}

	for _, tc := range tests {
		img := gocv.NewMatWithSize(tc.srcHeight, tc.srcWidth, gocv.MatTypeCV8UC1)

		resizedImg := gocv.NewMat()

		resizer := NewResizer(tc.srcWidth, tc.srcHeight, tc.resizeWidth, tc.resizeHeight)

		resizer.LetterBoxResize(img, &resizedImg, black)

		if resizer.XPad() != tc.expectedXPad || resizer.YPad() != tc.expectedYPad {
			t.Errorf("Test failed for src (%d, %d): Padding values wrong, expected XPad=%d, YPad=%d, got xPad=%d, yPad=%d",
				tc.srcWidth, tc.srcHeight, tc.expectedXPad, tc.expectedYPad, resizer.XPad(), resizer.YPad())
		}

		if resizer.ScaleFactor() != tc.expectedScale {
			t.Errorf("Test failed for src (%d, %d): Scalefactor incorrect, expected %f, got %f",
				tc.srcWidth, tc.srcHeight, tc.expectedScale, resizer.ScaleFactor())
		}

		img.Close()
		resizedImg.Close()
		resizer.Close()
	}
}

func TestTranslateBack(t *testing.T) {

	tests := []struct {
		srcWidth  int
		srcHeight int
		modelBox  image.Rectangle
		expected  image.Rectangle
	}{
		// 1280x720 letterboxed into 640x640 gives scale 0.5, yPad 140
		{1280, 720, image.Rect(0, 140, 640, 500), image.Rect(0, 0, 1280, 720)},
		{1280, 720, image.Rect(100, 240, 200, 340), image.Rect(200, 200, 400, 400)},
		// boxes reaching into the padding clamp to the source bounds
		{1280, 720, image.Rect(0, 0, 640, 640), image.Rect(0, 0, 1280, 720)},
		// 800x800 into 640x640 is a plain scale of 0.8 with no padding
		{800, 800, image.Rect(80, 80, 160, 160), image.Rect(100, 100, 200, 200)},
	}

	for _, tc := range tests {
		resizer := NewResizer(tc.srcWidth, tc.srcHeight, 640, 640)

		got := resizer.TranslateBack(tc.modelBox)

		if got != tc.expected {
			t.Errorf("Test failed for src (%d, %d) box %v: expected %v, got %v",
				tc.srcWidth, tc.srcHeight, tc.modelBox, tc.expected, got)
		}

		resizer.Close()
	}
}

func TestTensor(t *testing.T) {

	// 2x2 constant color image, blue=10 green=20 red=30
	img := gocv.NewMatWithSizeFromScalar(gocv.Scalar{Val1: 10, Val2: 20, Val3: 30},
		2, 2, gocv.MatTypeCV8UC3)
	defer img.Close()

	resizer := NewResizer(2, 2, 2, 2)
	defer resizer.Close()

	tensor, err := resizer.Tensor(img)

	if err != nil {
		t.Fatalf("Tensor returned error: %v", err)
	}

	if len(tensor) != 3*2*2 {
		t.Fatalf("expected tensor length %d, got %d", 3*2*2, len(tensor))
	}

	// CHW planes in RGB order normalized by 255
	wantR := float32(30) / 255.0
	wantG := float32(20) / 255.0
	wantB := float32(10) / 255.0

	for i := 0; i < 4; i++ {
		if tensor[i] != wantR {
			t.Errorf("R plane index %d: expected %f, got %f", i, wantR, tensor[i])
		}
		if tensor[4+i] != wantG {
			t.Errorf("G plane index %d: expected %f, got %f", i, wantG, tensor[4+i])
		}
		if tensor[8+i] != wantB {
			t.Errorf("B plane index %d: expected %f, got %f", i, wantB, tensor[8+i])
		}
	}
}

func TestTensorRejectsEmpty(t *testing.T) {

	img := gocv.NewMat()
	defer img.Close()

	resizer := NewResizer(640, 640, 640, 640)
	defer resizer.Close()

	if _, err := resizer.Tensor(img); err == nil {
		t.Error("expected error for empty input image")
	}
}
