package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
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

// Demo streams a video file through the detection pipeline to the browser as
// MJPEG, looping the file endlessly to simulate a live road camera
type Demo struct {
	// vidBuffer buffers the video frames into memory
	vidBuffer []gocv.Mat
	// worker runs the detection passes
	worker *pipeline.Worker
	// source is the video file path recorded on each job
	source string
	// fps is the source video frame rate used to pace submission
	fps float64
}

// NewDemo returns an instance of Demo, a streaming HTTP server showing the
// video with road scene detection
func NewDemo(vidFile string, worker *pipeline.Worker) (*Demo, error) {

	d := &Demo{
		worker: worker,
		source: vidFile,
	}

	err := d.bufferVideo(vidFile)

	if err != nil {
		return nil, fmt.Errorf("Error buffering video: %w", err)
	}

	if len(d.vidBuffer) == 0 {
		return nil, fmt.Errorf("no frames decoded from %s", vidFile)
	}

	return d, nil
}

// bufferVideo reads in the video frames and saves them to a buffer
func (d *Demo) bufferVideo(vidFile string) error {

	// open handle to read frames of video file
	video, err := gocv.VideoCaptureFile(vidFile)

	if err != nil {
		return err
	}

	defer video.Close()

	d.fps = video.Get(gocv.VideoCaptureFPS)

	if d.fps <= 0 {
		d.fps = 25
	}

	d.vidBuffer = make([]gocv.Mat, 0)

	for {
		img := gocv.NewMat()

		// read the next frame from the video
		if ok := video.Read(&img); !ok {
			// reached last video frame
			img.Close()
			break
		}

		// Check if the frame is empty
		if img.Empty() {
			img.Close()
			continue
		}

		// push frame onto buffer
		d.vidBuffer = append(d.vidBuffer, img)
	}

	return nil
}

// Stream is the HTTP handler function used to stream video frames to browser
func (d *Demo) Stream(w http.ResponseWriter, r *http.Request) {

	log.Printf("New client connection established\n")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ctx := r.Context()

	jobs := make(chan pipeline.Job)
	results := make(chan pipeline.JobResult, 8)

	go d.worker.RunPreview(ctx, jobs, results)

	// submit frames at the source video frame rate.  when inference cannot
	// keep up the preview scheduler drops the oldest queued frame, so the
	// stream stays live instead of lagging behind.
	interval := time.Duration(float64(time.Second) / d.fps)

	go func() {
		defer close(jobs)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		frameNum := -1

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			// increment pointer to next image in the video buffer
			frameNum++

			if frameNum > len(d.vidBuffer)-1 {
				// last frame reached so loop back to start of video
				frameNum = 0
			}

			// the scheduler owns submitted frames and closes dropped ones,
			// so each job carries its own copy of the buffered frame
			frame := d.vidBuffer[frameNum].Clone()

			job := pipeline.Job{
				ID:         uuid.New(),
				SourcePath: d.source,
				SourceType: "video",
				Frame:      frame,
			}

			select {
			case jobs <- job:
			case <-ctx.Done():
				frame.Close()
				return
			}
		}
	}()

	for jr := range results {

		if jr.Err != nil {
			log.Printf("Error processing frame: %v\n", jr.Err)
			jr.Job.Frame.Close()
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, jr.Result.Rendered)

		jr.Result.Rendered.Close()
		jr.Job.Frame.Close()

		if err != nil {
			log.Printf("Error encoding frame: %v\n", err)
			continue
		}

		// Write the image to the response writer
		w.Write([]byte("--frame\r\n"))
		w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
		w.Write(buf.GetBytes())
		w.Write([]byte("\r\n"))

		buf.Close()

		// Flush the buffer
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}

	log.Printf("Client disconnected\n")
}

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// .env provides defaults for the model and database paths
	_ = godotenv.Load()

	// read in cli flags
	modelFile := flag.String("m", envOr("ROADSENSE_PRIMARY_MODEL", "../data/models/roadsense-640.onnx"), "Primary multi-task ONNX model file")
	auxFile := flag.String("a", envOr("ROADSENSE_AUX_MODEL", ""), "Auxiliary detector ONNX model file, leave empty to run the primary model only")
	vidFile := flag.String("v", "../data/dashcam.mp4", "Video file to run detection on")
	labelFile := flag.String("l", "", "Text file containing primary model labels, leave empty to use the built in taxonomy")
	dbFile := flag.String("db", envOr("ROADSENSE_DB", ""), "SQLite prediction history file, leave empty to disable history")
	httpAddr := flag.String("addr", "localhost:8080", "HTTP Address to run server on, format address:port")
	size := flag.Int("s", 640, "Model input size in pixels")
	conf := flag.Float64("c", 0.25, "Minimum detection confidence")
	maskThresh := flag.Float64("k", 0.45, "Segmentation mask threshold")
	deviceStr := flag.String("d", "auto", "Execution device [auto|cpu|cuda]")
	ttfFont := flag.String("f", "", "TTF font for banner text, leave empty to use the built in fonts")
	workers := flag.Int("workers", 2, "Number of concurrent inference workers")
	queue := flag.Int("queue", 4, "Frame queue depth before the drop-oldest policy applies")
	metrics := flag.Bool("metrics", false, "Also serve prometheus metrics on /metrics")

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

	// outputs are streamed not saved, so no output directory is configured
	cfg := pipeline.Config{
		ImageSize:       image.Pt(*size, *size),
		ConfThreshold:   float32(*conf),
		MaskThreshold:   float32(*maskThresh),
		Device:          device,
		EnableAuxiliary: *auxFile != "",
		FontFile:        *ttfFont,
		QueueDepth:      *queue,
		Workers:         *workers,
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

	if *dbFile != "" {
		store, err := history.Open(*dbFile, logger)

		if err != nil {
			log.Fatal("Error opening history database: ", err)
		}

		defer store.Close()

		worker.AttachHistory(store)
	}

	demo, err := NewDemo(*vidFile, worker)

	if err != nil {
		log.Fatalf("Error creating demo: %v", err)
	}

	log.Printf("Buffered %d video frames at %.1f FPS\n",
		len(demo.vidBuffer), demo.fps)

	if *metrics {
		sampler := monitor.NewSampler(time.Second, logger)

		go sampler.Start(context.Background())

		http.Handle("/metrics", sampler.Handler())

		log.Printf("Serving metrics on http://%s/metrics\n", *httpAddr)
	}

	http.HandleFunc("/stream", demo.Stream)

	// start http server
	log.Println(fmt.Sprintf("Open browser and view video at http://%s/stream",
		*httpAddr))
	log.Fatal(http.ListenAndServe(*httpAddr, nil))
}

// envOr returns the environment variable value or the fallback when unset
func envOr(key, fallback string) string {

	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
