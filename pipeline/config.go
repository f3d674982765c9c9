package pipeline

import (
	"fmt"
	"image"

	"github.com/swdee/go-roadsense"
)

// Default configuration values applied by Validate
const (
	DefaultImageSize     = 640
	DefaultConfThreshold = 0.25
	DefaultMaskThreshold = 0.45
	DefaultQueueDepth    = 4
	DefaultWorkers       = 2
)

// Config carries the inference settings for a Worker.  Pass by value, the
// worker validates and keeps its own copy.
type Config struct {
	// ImageSize is the model input dimensions the frame is letterboxed to
	ImageSize image.Point
	// ConfThreshold is the minimum detection confidence
	ConfThreshold float32
	// MaskThreshold is the minimum segmentation mask foreground probability
	MaskThreshold float32
	// Device selects the execution provider the model pools were loaded
	// with, recorded in job history
	Device roadsense.Device
	// EnableAuxiliary runs the auxiliary model alongside the primary
	EnableAuxiliary bool
	// SaveOutputs writes the rendered image and label file for each job
	SaveOutputs bool
	// FontFile optionally points at a TTF font used for banner text, empty
	// uses the built in Hershey fonts
	FontFile string
	// OutputDir is where saved outputs are written, with label files under
	// an OutputDir/labels subdirectory
	OutputDir string
	// QueueDepth bounds how far frame acquisition may run ahead of
	// inference during batch and preview runs
	QueueDepth int
	// Workers is the number of concurrent inference goroutines used by
	// RunBatch and RunPreview
	Workers int
}

// Validate applies defaults to unset fields and checks the configuration.
// NewWorker validates its own copy, so calling this directly is only needed
// for early feedback.
func (c *Config) Validate() error {

	if c.ImageSize.X == 0 && c.ImageSize.Y == 0 {
		c.ImageSize = image.Pt(DefaultImageSize, DefaultImageSize)
	}

	if c.ImageSize.X <= 0 || c.ImageSize.Y <= 0 {
		return fmt.Errorf("invalid image size %dx%d",
			c.ImageSize.X, c.ImageSize.Y)
	}

	if c.ConfThreshold == 0 {
		c.ConfThreshold = DefaultConfThreshold
	}

	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold %f out of range",
			c.ConfThreshold)
	}

	if c.MaskThreshold == 0 {
		c.MaskThreshold = DefaultMaskThreshold
	}

	if c.MaskThreshold < 0 || c.MaskThreshold > 1 {
		return fmt.Errorf("mask threshold %f out of range", c.MaskThreshold)
	}

	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}

	if c.QueueDepth < 1 {
		return fmt.Errorf("queue depth must be at least 1, got %d",
			c.QueueDepth)
	}

	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}

	if c.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d",
			c.Workers)
	}

	if c.SaveOutputs && c.OutputDir == "" {
		return fmt.Errorf("output directory required when saving outputs")
	}

	return nil
}
