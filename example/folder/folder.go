package main

import (
	"context"
	"flag"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/history"
	"github.com/swdee/go-roadsense/monitor"
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
	imgDir := flag.String("dir", "../data/frames/", "A directory of images to run detection on")
	labelFile := flag.String("l", "", "Text file containing primary model labels, leave empty to use the built in taxonomy")
	outDir := flag.String("o", envOr("ROADSENSE_OUT", ""), "Output directory, leave empty to derive runs/predict_<timestamp>")
	dbFile := flag.String("db", envOr("ROADSENSE_DB", ""), "SQLite prediction history file, leave empty to disable history")
	size := flag.Int("s", 640, "Model input size in pixels")
	conf := flag.Float64("c", 0.25, "Minimum detection confidence")
	maskThresh := flag.Float64("k", 0.45, "Segmentation mask threshold")
	deviceStr := flag.String("d", "auto", "Execution device [auto|cpu|cuda]")
	ttfFont := flag.String("f", "", "TTF font for banner text, leave empty to use the built in fonts")
	workers := flag.Int("workers", 2, "Number of concurrent inference workers")
	queue := flag.Int("queue", 4, "Acquisition queue depth ahead of inference")
	metricsAddr := flag.String("metrics", "", "Address to serve prometheus metrics on, eg: localhost:9090, leave empty to disable")

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
		QueueDepth:      *queue,
		Workers:         *workers,
	}

	files, err := pipeline.ScanFolder(*imgDir)

	if err != nil {
		log.Fatal("Error scanning folder: ", err)
	}

	if len(files) == 0 {
		log.Fatal("No images found in ", *imgDir)
	}

	// pool size matches the worker count so no worker waits on a runtime
	primaryPool, err := roadsense.NewPool(*workers, *modelFile,
		pipeline.PrimaryModelOptions(cfg.ImageSize, reg.PrimaryCount(), device))

	if err != nil {
		log.Fatal("Error creating primary model pool: ", err)
	}

	defer primaryPool.Close()

	var auxPool *roadsense.Pool

	if *auxFile != "" {
		auxPool, err = roadsense.NewPool(*workers, *auxFile,
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

	var store *history.Store

	if *dbFile != "" {
		store, err = history.Open(*dbFile, logger)

		if err != nil {
			log.Fatal("Error opening history database: ", err)
		}

		defer store.Close()

		worker.AttachHistory(store)
	}

	// ctrl-c stops the batch at frame granularity
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *metricsAddr != "" {
		sampler := monitor.NewSampler(time.Second, logger)

		go sampler.Start(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", sampler.Handler())

		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()

		log.Printf("Serving metrics on http://%s/metrics\n", *metricsAddr)
	}

	log.Printf("Processing %d images...\n", len(files))

	jobs := make(chan pipeline.Job)
	results := make(chan pipeline.JobResult)

	// acquisition runs ahead of inference bounded by the queue depth, so
	// only a handful of frames are decoded in memory at any time
	go func() {
		defer close(jobs)

		for _, file := range files {
			img := gocv.IMRead(file, gocv.IMReadColor)

			job := pipeline.Job{
				ID:         uuid.New(),
				SourcePath: file,
				SourceType: "folder",
				Frame:      img,
			}

			select {
			case jobs <- job:
			case <-ctx.Done():
				img.Close()
				return
			}
		}
	}()

	go worker.RunBatch(ctx, jobs, results)

	start := time.Now()
	done := 0
	failed := 0

	for jr := range results {

		if jr.Err != nil {
			failed++
			log.Printf("FAIL %s: %v\n", jr.Job.SourcePath, jr.Err)
		} else {
			done++
			log.Printf("%s: %d detections in %.1fms -> %s\n",
				jr.Job.SourcePath, len(jr.Result.Frame.Detections),
				jr.Result.Frame.InferenceTimeMs, jr.Result.SavedImage)
		}

		if jr.Result != nil {
			jr.Result.Rendered.Close()
		}

		jr.Job.Frame.Close()
	}

	elapsed := time.Since(start)

	log.Printf("Processed %d images in %s, %d failed\n",
		done+failed, elapsed.String(), failed)

	if done > 0 {
		avg := (elapsed.Seconds() / float64(done)) * 1000
		log.Printf("Average time per image %.2fms\n", avg)
	}

	if store != nil {
		stats, err := store.Aggregate(nil)

		if err != nil {
			log.Printf("Error aggregating history: %v\n", err)
		} else {
			log.Printf("History: %d recorded, %d ok, %d failed, average inference %.1fms, %d detections total\n",
				stats.Total, stats.SuccessCount, stats.FailureCount,
				stats.AvgInferenceTime, stats.TotalDetections)
		}
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
