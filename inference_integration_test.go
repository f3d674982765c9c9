//go:build integration
// +build integration

package roadsense_test

import (
	"image"
	"image/color"
	"os"
	"testing"

	"gocv.io/x/gocv"

	roadsense "github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/pipeline"
	"github.com/swdee/go-roadsense/postprocess"
	"github.com/swdee/go-roadsense/preprocess"
	"github.com/swdee/go-roadsense/registry"
)

func TestMultiTaskInference(t *testing.T) {

	modelFile := os.Getenv("ROADSENSE_MODEL")

	if modelFile == "" {
		t.Fatalf("No model file provided in ROADSENSE_MODEL")
	}

	imgFile := os.Getenv("ROADSENSE_IMAGE")

	if imgFile == "" {
		t.Fatalf("No image file provided in ROADSENSE_IMAGE")
	}

	reg := registry.NewRegistry()

	opts := pipeline.PrimaryModelOptions(image.Pt(640, 640),
		reg.PrimaryCount(), roadsense.DeviceCPU)
	opts.LibraryPath = os.Getenv("ROADSENSE_ORT_LIB")

	// Initialize runtime
	rt, err := roadsense.NewRuntime(modelFile, opts)

	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}

	defer rt.Close()

	// load image
	img := gocv.IMRead(imgFile, gocv.IMReadColor)

	if img.Empty() {
		t.Fatalf("Error reading image from: %s", imgFile)
	}

	defer img.Close()

	// letterbox to the model input size and convert to a tensor
	resizer := preprocess.NewResizer(img.Cols(), img.Rows(), 640, 640)
	defer resizer.Close()

	boxed := gocv.NewMat()
	defer boxed.Close()

	resizer.LetterBoxResize(img, &boxed, color.RGBA{A: 255})

	tensor, err := resizer.Tensor(boxed)

	if err != nil {
		t.Fatalf("Tensor conversion failed: %v", err)
	}

	// run inference
	outputs, err := rt.Inference(tensor)

	if err != nil {
		t.Fatalf("Inference error: %v", err)
	}

	defer func() {
		if err := outputs.Free(); err != nil {
			t.Errorf("Free Outputs: %v", err)
		}
	}()

	if got := len(outputs.Output); got != 3 {
		t.Fatalf("expected 3 output tensors, got %d", got)
	}

	// decode all three heads
	mt := postprocess.NewMultiTask(postprocess.MultiTaskBDDParams())

	detRes := mt.DetectObjects(outputs, resizer)

	// Boxes must lie inside the source image and scores in [0,1]
	for i, det := range detRes.GetDetectResults() {

		if det.Probability < 0 || det.Probability > 1 {
			t.Errorf("detection %d: probability %v out of [0,1]", i,
				det.Probability)
		}

		if det.Box.Left < 0 || det.Box.Top < 0 ||
			det.Box.Right > img.Cols() || det.Box.Bottom > img.Rows() {
			t.Errorf("detection %d: box (%d %d %d %d) outside source %dx%d",
				i, det.Box.Left, det.Box.Top, det.Box.Right, det.Box.Bottom,
				img.Cols(), img.Rows())
		}

		if det.Class < 0 || det.Class >= reg.PrimaryCount() {
			t.Errorf("detection %d: class %d out of range [0,%d)", i,
				det.Class, reg.PrimaryCount())
		}
	}

	// Masks must come back at source resolution with binary values
	drivable := mt.DrivableMask(outputs, resizer)
	lane := mt.LaneMask(outputs, resizer)

	wantLen := img.Cols() * img.Rows()

	if len(drivable.Mask) != wantLen {
		t.Fatalf("drivable mask has %d pixels, want %d", len(drivable.Mask),
			wantLen)
	}

	if len(lane.Mask) != wantLen {
		t.Fatalf("lane mask has %d pixels, want %d", len(lane.Mask), wantLen)
	}

	var drivablePixels int

	for i, p := range drivable.Mask {

		if p != 0 && p != 1 {
			t.Fatalf("drivable mask pixel %d has non binary value %d", i, p)
		}

		if p == 1 {
			drivablePixels++
		}
	}

	// Sanity check: a road scene must segment some drivable area
	if drivablePixels == 0 {
		t.Errorf("drivable mask is empty, something's wrong")
	}
}
