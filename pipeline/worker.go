/*
Package pipeline schedules detection passes over single frames, image
folders, and video streams.  A Worker joins the two model pools with the
postprocess decoders, result fusion, traffic analysis, and rendering, and
optionally records every job in the prediction history.
*/
package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/history"
	"github.com/swdee/go-roadsense/postprocess"
	"github.com/swdee/go-roadsense/preprocess"
	"github.com/swdee/go-roadsense/registry"
	"github.com/swdee/go-roadsense/render"
	"github.com/swdee/go-roadsense/traffic"
)

// Result is the outcome of one inference call
type Result struct {
	// Frame is the fused frame result
	Frame *fusion.FrameResult
	// Semantics is the traffic scene analysis of the frame
	Semantics traffic.Semantics
	// Rendered is the annotated output image.  The caller owns it and must
	// Close it
	Rendered gocv.Mat
	// SavedImage and SavedLabel are the written file paths when output
	// saving is configured
	SavedImage string
	SavedLabel string
}

// Worker runs detection passes using a primary multi-task model pool and an
// optional auxiliary detector pool
type Worker struct {
	primary   *roadsense.Pool
	auxiliary *roadsense.Pool
	reg       *registry.Registry
	cfg       Config
	logger    *zap.Logger

	multiTask *postprocess.MultiTask
	detector  *postprocess.Detector
	analyzer  *traffic.Analyzer
	style     render.Style

	primaryModel string
	auxModel     string

	history *history.Store

	// inferFn indirects Infer so scheduling can be exercised without
	// loaded models
	inferFn func(context.Context, gocv.Mat, string) (*Result, error)
}

// NewWorker returns a worker over the given model pools.  The primary pool
// is required, a nil auxiliary pool with EnableAuxiliary set degrades the
// worker to primary-only operation with a warning.  A nil logger disables
// logging.
func NewWorker(primary, auxiliary *roadsense.Pool, reg *registry.Registry,
	cfg Config, logger *zap.Logger) (*Worker, error) {

	if logger == nil {
		logger = zap.NewNop()
	}

	if primary == nil {
		return nil, fmt.Errorf("%w: primary model pool required",
			roadsense.ErrModelNotLoaded)
	}

	if reg == nil {
		return nil, fmt.Errorf("class registry required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.EnableAuxiliary && auxiliary == nil {
		logger.Warn("auxiliary model not loaded, running primary only")
		cfg.EnableAuxiliary = false
	}

	mtParams := postprocess.MultiTaskBDDParams()
	mtParams.BoxThreshold = cfg.ConfThreshold
	mtParams.MaskThreshold = cfg.MaskThreshold
	mtParams.ObjectClassNum = reg.PrimaryCount()

	detParams := postprocess.DetectorCOCOParams()
	detParams.BoxThreshold = cfg.ConfThreshold
	detParams.KeepClasses = reg.SpecialIDs()

	w := &Worker{
		primary:   primary,
		auxiliary: auxiliary,
		reg:       reg,
		cfg:       cfg,
		logger:    logger,
		multiTask: postprocess.NewMultiTask(mtParams),
		detector:  postprocess.NewDetector(detParams),
		analyzer:  traffic.NewAnalyzer(reg),
		style:     render.DefaultStyle(),
	}

	if cfg.FontFile != "" {
		face, err := render.LoadFontFace(cfg.FontFile, render.TTFFontSize)

		if err != nil {
			return nil, fmt.Errorf("loading banner font: %w", err)
		}

		w.style.Face = face
	}

	// model paths for result metadata and history records
	rt := primary.Get()
	w.primaryModel = rt.ModelFile()
	primary.Return(rt)

	if auxiliary != nil {
		rt := auxiliary.Get()
		w.auxModel = rt.ModelFile()
		auxiliary.Return(rt)
	}

	w.inferFn = w.Infer

	logger.Info("inference worker ready",
		zap.String("primary", w.primaryModel),
		zap.String("auxiliary", w.auxModel),
		zap.Bool("auxiliary_enabled", cfg.EnableAuxiliary),
		zap.Stringer("device", cfg.Device),
	)

	return w, nil
}

// AttachHistory makes the worker record every job outcome in the store.  A
// failed history write is reported on the job result and the worker's
// logger, it never fails the inference itself.
func (w *Worker) AttachHistory(store *history.Store) {
	w.history = store
}

// Infer runs one detection pass over the frame.  The primary model always
// runs, the auxiliary model runs concurrently with it when enabled, and the
// passes are joined before fusion.  The returned result carries the fused
// detections, the traffic semantics, and the annotated image which the
// caller must Close.
//
// When output saving is configured a save failure returns the completed
// result alongside the error, so the caller still has the rendered frame.
func (w *Worker) Infer(ctx context.Context, frame gocv.Mat,
	sourcePath string) (*Result, error) {

	if frame.Empty() || frame.Cols() <= 0 || frame.Rows() <= 0 {
		return nil, fmt.Errorf("%w: empty frame from %s",
			roadsense.ErrInvalidFrame, sourcePath)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rz := preprocess.NewResizer(frame.Cols(), frame.Rows(),
		w.cfg.ImageSize.X, w.cfg.ImageSize.Y)
	defer rz.Close()

	boxed := gocv.NewMat()
	defer boxed.Close()

	rz.LetterBoxResize(frame, &boxed, render.Black)

	tensor, err := rz.Tensor(boxed)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", roadsense.ErrInvalidFrame, err)
	}

	start := time.Now()

	var (
		wg     sync.WaitGroup
		priOut *roadsense.Outputs
		priErr error
		auxOut *roadsense.Outputs
		auxErr error
	)

	// both passes read the same input tensor and write only their own
	// output variables
	wg.Add(1)

	go func() {
		defer wg.Done()

		rt := w.primary.Get()
		defer w.primary.Return(rt)

		priOut, priErr = rt.Inference(tensor)
	}()

	if w.cfg.EnableAuxiliary {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rt := w.auxiliary.Get()
			defer w.auxiliary.Return(rt)

			auxOut, auxErr = rt.Inference(tensor)
		}()
	}

	wg.Wait()

	inferTime := time.Since(start)

	if priOut != nil {
		defer priOut.Free()
	}

	if auxOut != nil {
		defer auxOut.Free()
	}

	if priErr != nil {
		return nil, fmt.Errorf("primary inference: %w", priErr)
	}

	if auxErr != nil {
		return nil, fmt.Errorf("auxiliary inference: %w", auxErr)
	}

	detRes := w.multiTask.DetectObjects(priOut, rz).GetDetectResults()
	drivable := w.multiTask.DrivableMask(priOut, rz)
	lane := w.multiTask.LaneMask(priOut, rz)

	var auxRes []postprocess.DetectResult

	if auxOut != nil {
		auxRes = w.detector.DetectObjects(auxOut, rz).GetDetectResults()
	}

	frameRes, err := fusion.Fuse(fusion.FuseInput{
		Primary:        detRes,
		Drivable:       &drivable,
		Lane:           &lane,
		Auxiliary:      auxRes,
		FrameSize:      image.Pt(frame.Cols(), frame.Rows()),
		Registry:       w.reg,
		InferenceTime:  inferTime,
		PrimaryModel:   w.primaryModel,
		AuxiliaryModel: w.auxModel,
	})

	if err != nil {
		return nil, fmt.Errorf("fusing results: %w", err)
	}

	sem := w.analyzer.Analyze(frame, frameRes)

	// annotate a copy of the source frame, banners are drawn last as they
	// grow the image
	rendered := gocv.NewMat()
	frame.CopyTo(&rendered)

	render.SegmentMasks(&rendered, frameRes, w.reg, w.style.MaskAlpha)
	render.DetectionBoxes(&rendered, frameRes, sem, w.reg, w.style)
	render.Banners(&rendered, sem, frameRes, w.style)

	res := &Result{
		Frame:     frameRes,
		Semantics: sem,
		Rendered:  rendered,
	}

	w.logger.Debug("frame inferred",
		zap.String("source", sourcePath),
		zap.Int("detections", len(frameRes.Detections)),
		zap.Duration("inference", inferTime),
	)

	if w.cfg.SaveOutputs {
		imgPath, lblPath, err := w.saveOutputs(rendered, frameRes, sourcePath)

		if err != nil {
			return res, err
		}

		res.SavedImage = imgPath
		res.SavedLabel = lblPath
	}

	return res, nil
}

// saveOutputs writes the rendered image and its label file as a pair.  Both
// are written to temporary files first and only renamed into place once both
// writes succeeded, so a crash or full disk never leaves one without the
// other.
func (w *Worker) saveOutputs(rendered gocv.Mat, res *fusion.FrameResult,
	sourcePath string) (string, string, error) {

	labelsDir := filepath.Join(w.cfg.OutputDir, "labels")

	if err := os.MkdirAll(labelsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath),
		filepath.Ext(sourcePath))

	if base == "" || base == "." {
		base = "frame"
	}

	imgPath := filepath.Join(w.cfg.OutputDir, base+".jpg")
	lblPath := filepath.Join(labelsDir, base+".txt")

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, rendered)

	if err != nil {
		return "", "", fmt.Errorf("encoding rendered image: %w", err)
	}

	defer buf.Close()

	imgTmp := imgPath + ".tmp"
	lblTmp := lblPath + ".tmp"

	if err := os.WriteFile(imgTmp, buf.GetBytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("writing rendered image: %w", err)
	}

	if err := os.WriteFile(lblTmp, []byte(render.LabelText(res)), 0o644); err != nil {
		os.Remove(imgTmp)
		return "", "", fmt.Errorf("writing label file: %w", err)
	}

	if err := os.Rename(imgTmp, imgPath); err != nil {
		os.Remove(imgTmp)
		os.Remove(lblTmp)
		return "", "", fmt.Errorf("saving rendered image: %w", err)
	}

	if err := os.Rename(lblTmp, lblPath); err != nil {
		os.Remove(imgPath)
		os.Remove(lblTmp)
		return "", "", fmt.Errorf("saving label file: %w", err)
	}

	return imgPath, lblPath, nil
}

// paramString serializes the inference settings for history records
func (w *Worker) paramString() string {
	return fmt.Sprintf("size=%dx%d conf=%.2f mask=%.2f device=%s aux=%t",
		w.cfg.ImageSize.X, w.cfg.ImageSize.Y, w.cfg.ConfThreshold,
		w.cfg.MaskThreshold, w.cfg.Device, w.cfg.EnableAuxiliary)
}
