package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/history"
	"github.com/swdee/go-roadsense/pipeline"
	"github.com/swdee/go-roadsense/registry"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// .env provides defaults for the model and database paths
	_ = godotenv.Load()

	// read in cli flags
	modelFile := flag.String("m", envOr("ROADSENSE_PRIMARY_MODEL", "../data/models/roadsense-640.onnx"), "Primary multi-task ONNX model file")
	auxFile := flag.String("a", envOr("ROADSENSE_AUX_MODEL", ""), "Auxiliary detector ONNX model file, leave empty to run the primary model only")
	imgFile := flag.String("i", "../data/road.jpg", "Image file to run detection on")
	labelFile := flag.String("l", "", "Text file containing primary model labels, leave empty to use the built in taxonomy")
	outDir := flag.String("o", envOr("ROADSENSE_OUT", ""), "Output directory, leave empty to derive runs/predict_<timestamp>")
	dbFile := flag.String("db", envOr("ROADSENSE_DB", ""), "SQLite prediction history file, leave empty to disable history")
	size := flag.Int("s", 640, "Model input size in pixels")
	conf := flag.Float64("c", 0.25, "Minimum detection confidence")
	maskThresh := flag.Float64("k", 0.45, "Segmentation mask threshold")
	deviceStr := flag.String("d", "auto", "Execution device [auto|cpu|cuda]")
	ttfFont := flag.String("f", "", "TTF font for banner text, leave empty to use the built in fonts")

	flag.Parse()

	logger, err := zap.NewDevelopment()

	if err != nil {
		log.Fatal("Error creating logger: ", err)
	}

	defer logger.Sync()

	device, err := roadsense.ParseDevice(*deviceStr)

	if err != nil {
		log.Fatal("Error parsing device: ", err)
	}

	// load the class taxonomy
	reg := registry.NewRegistry()

	if *labelFile != "" {
		reg, err = registry.NewRegistryFromLabels(*labelFile)

		if err != nil {
			log.Fatal("Error loading labels: ", err)
		}
	}

	if *outDir == "" {
		*outDir = filepath.Join("runs",
			"predict_"+time.Now().Format("20060102_150405"))
	}

	cfg := pipeline.Config{
		ImageSize:       image.Pt(*size, *size),
		ConfThreshold:   float32(*conf),
		MaskThreshold:   float32(*maskThresh),
		Device:          device,
		EnableAuxiliary: *auxFile != "",
		SaveOutputs:     true,
		OutputDir:       *outDir,
		FontFile:        *ttfFont,
	}

	// create model pools, size of one as a single image is processed
	primaryPool, err := roadsense.NewPool(1, *modelFile,
		pipeline.PrimaryModelOptions(cfg.ImageSize, reg.PrimaryCount(), device))

	if err != nil {
		log.Fatal("Error creating primary model pool: ", err)
	}

	defer primaryPool.Close()

	var auxPool *roadsense.Pool

	if *auxFile != "" {
		auxPool, err = roadsense.NewPool(1, *auxFile,
			pipeline.AuxiliaryModelOptions(cfg.ImageSize, device))

		if err != nil {
			log.Fatal("Error creating auxiliary model pool: ", err)
		}

		defer auxPool.Close()
	}

	worker, err := pipeline.NewWorker(primaryPool, auxPool, reg, cfg, logger)

	if err != nil {
		log.Fatal("Error creating worker: ", err)
	}

	if *dbFile != "" {
		store, err := history.Open(*dbFile, logger)

		if err != nil {
			log.Fatal("Error opening history database: ", err)
		}

		defer store.Close()

		worker.AttachHistory(store)
	}

	// load image
	img := gocv.IMRead(*imgFile, gocv.IMReadColor)

	if img.Empty() {
		log.Fatal("Error reading image from: ", *imgFile)
	}

	defer img.Close()

	jr := worker.Process(context.Background(), pipeline.Job{
		ID:         uuid.New(),
		SourcePath: *imgFile,
		SourceType: "image",
		Frame:      img,
	})

	if jr.Err != nil {
		log.Fatal("Detection failed: ", jr.Err)
	}

	res := jr.Result
	defer res.Rendered.Close()

	// output detection boxes to stdout
	for _, det := range res.Frame.Detections {
		fmt.Printf("%s @ (%d %d %d %d) %.3f\n", det.Label,
			det.Box.Min.X, det.Box.Min.Y, det.Box.Max.X, det.Box.Max.Y,
			det.Confidence)
	}

	for _, warn := range res.Semantics.Warnings() {
		log.Println(warn)
	}

	log.Printf("Inference time %.1fms, %d detections\n",
		res.Frame.InferenceTimeMs, len(res.Frame.Detections))

	log.Printf("Saved detection result to %s\n", res.SavedImage)
	log.Printf("Saved label file to %s\n", res.SavedLabel)

	if jr.PersistErr != nil {
		log.Printf("History write failed: %v\n", jr.PersistErr)
	}

	log.Println("done")
}

// envOr returns the environment variable value or the fallback when unset
func envOr(key, fallback string) string {

	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
