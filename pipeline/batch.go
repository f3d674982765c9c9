package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/history"
)

// Job is one frame submitted for inference
type Job struct {
	// ID identifies the job in logs and history records
	ID uuid.UUID
	// Seq is assigned by the scheduler in submission order, any caller
	// supplied value is overwritten
	Seq int
	// SourcePath is the originating file for single images and folder
	// scans, or the stream source for video frames
	SourcePath string
	// SourceType is one of image, folder or video
	SourceType string
	// Frame holds the decoded image data
	Frame gocv.Mat
}

// JobResult pairs a job with its inference outcome
type JobResult struct {
	Job Job
	// Seq mirrors Job.Seq for callers that pass results on without the job
	Seq int
	// Result is the inference output, nil when Err is set
	Result *Result
	// Err is the inference failure, context.Canceled for jobs abandoned
	// by a cancelled run
	Err error
	// PersistErr reports a failed history write, the inference result is
	// still valid when it is set
	PersistErr error
}

// RunBatch consumes jobs until the channel closes and emits one result per
// job on the results channel in submission order.  Up to Workers frames are
// inferred concurrently with at most QueueDepth more queued, so a folder of
// thousands of images is never loaded into memory at once.  The results
// channel is closed when the run finishes.
//
// Cancelling the context abandons queued jobs, each is emitted with Err set
// to the context error so sequence numbers on the results stay contiguous.
func (w *Worker) RunBatch(ctx context.Context, jobs <-chan Job,
	results chan<- JobResult) {

	defer close(results)

	inflight := make(chan Job, w.cfg.QueueDepth)
	completed := make(chan JobResult, w.cfg.QueueDepth)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for job := range inflight {
				select {
				case <-ctx.Done():
					// drain without inferring so the resequencer can
					// release every accepted sequence number
					completed <- JobResult{Job: job, Seq: job.Seq,
						Err: ctx.Err()}
					continue
				default:
				}

				completed <- w.Process(ctx, job)
			}
		}()
	}

	// release results in submission order, completions arriving early are
	// parked until their predecessors finish.  The pending map is bounded
	// by Workers+QueueDepth as that is the most jobs in flight at once.
	var seqWg sync.WaitGroup
	seqWg.Add(1)

	go func() {
		defer seqWg.Done()

		pending := make(map[int]JobResult)
		next := 0

		for jr := range completed {
			pending[jr.Seq] = jr

			for {
				out, ok := pending[next]

				if !ok {
					break
				}

				delete(pending, next)
				results <- out
				next++
			}
		}
	}()

	seq := 0

feed:
	for {
		var (
			job Job
			ok  bool
		)

		select {
		case <-ctx.Done():
			break feed

		case job, ok = <-jobs:
			if !ok {
				break feed
			}
		}

		job.Seq = seq

		select {
		case inflight <- job:
			seq++

		case <-ctx.Done():
			break feed
		}
	}

	close(inflight)
	wg.Wait()
	close(completed)
	seqWg.Wait()
}

// RunPreview consumes jobs until the channel closes and emits results in
// completion order, suited to live video where showing the latest frame
// matters more than showing every frame.  When the queue is full the oldest
// queued frame is dropped, and dropped frames are Closed by the scheduler.
// All other Mats remain owned by the caller.  The results channel is closed
// when the run finishes.
func (w *Worker) RunPreview(ctx context.Context, jobs <-chan Job,
	results chan<- JobResult) {

	defer close(results)

	inflight := make(chan Job, w.cfg.QueueDepth)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for job := range inflight {
				select {
				case <-ctx.Done():
					job.Frame.Close()
					continue
				default:
				}

				results <- w.Process(ctx, job)
			}
		}()
	}

	seq := 0

feed:
	for {
		var (
			job Job
			ok  bool
		)

		select {
		case <-ctx.Done():
			break feed

		case job, ok = <-jobs:
			if !ok {
				break feed
			}
		}

		job.Seq = seq
		seq++

		for {
			select {
			case inflight <- job:
			default:
				// queue full, evict the oldest waiting frame to make
				// room for the newest
				select {
				case dropped := <-inflight:
					dropped.Frame.Close()

					w.logger.Debug("preview frame dropped",
						zap.Int("seq", dropped.Seq))
				default:
				}

				continue
			}

			break
		}
	}

	close(inflight)
	wg.Wait()
}

// Process infers one job and records the outcome in the attached history
// store.  It is the single job entry point used by the batch and preview
// schedulers, callers processing one frame at a time may use it directly.
func (w *Worker) Process(ctx context.Context, job Job) JobResult {
	res, err := w.inferFn(ctx, job.Frame, job.SourcePath)

	jr := JobResult{
		Job:    job,
		Seq:    job.Seq,
		Result: res,
		Err:    err,
	}

	if w.history != nil {
		jr.PersistErr = w.recordHistory(job, res, err)

		if jr.PersistErr != nil {
			w.logger.Error("history write failed",
				zap.String("job", job.ID.String()),
				zap.Error(jr.PersistErr))
		}
	}

	return jr
}

// recordHistory writes the job outcome to the prediction history
func (w *Worker) recordHistory(job Job, res *Result, jobErr error) error {
	rec := history.Record{
		ModelPath:  w.primaryModel,
		SourcePath: job.SourcePath,
		SourceType: job.SourceType,
		Parameters: w.paramString(),
		Success:    jobErr == nil,
	}

	if jobErr != nil {
		rec.ErrorMessage = jobErr.Error()
	}

	if res != nil {
		rec.ResultPath = res.SavedImage

		if res.Frame != nil {
			rec.InferenceTime = res.Frame.InferenceTimeMs
			rec.NumDetections = len(res.Frame.Detections)
		}
	}

	_, err := w.history.Record(rec)

	return err
}
