package history

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-roadsense"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func boolPtr(b bool) *bool {
	return &b
}

func TestRecordAndGet(t *testing.T) {

	store := openTestStore(t)

	id, err := store.Record(Record{
		Timestamp:     "2026-08-20T10:00:00Z",
		ModelPath:     "/models/primary.onnx",
		SourcePath:    "/data/frame1.jpg",
		SourceType:    "image",
		ResultPath:    "/out/frame1.jpg",
		Parameters:    "conf=0.25 nms=0.45",
		Success:       true,
		InferenceTime: 42.5,
		NumDetections: 3,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	rec, err := store.Get(id)
	require.NoError(t, err)

	assert.Equal(t, "2026-08-20T10:00:00Z", rec.Timestamp)
	assert.Equal(t, "/models/primary.onnx", rec.ModelPath)
	assert.Equal(t, "/data/frame1.jpg", rec.SourcePath)
	assert.Equal(t, "image", rec.SourceType)
	assert.Equal(t, "/out/frame1.jpg", rec.ResultPath)
	assert.Equal(t, "conf=0.25 nms=0.45", rec.Parameters)
	assert.True(t, rec.Success)
	assert.InDelta(t, 42.5, rec.InferenceTime, 1e-9)
	assert.Equal(t, 3, rec.NumDetections)
	assert.NotEmpty(t, rec.CreatedAt)

	_, err = store.Get(id + 100)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordDefaultsTimestamp(t *testing.T) {

	store := openTestStore(t)

	id, err := store.Record(Record{
		ModelPath:  "/models/primary.onnx",
		SourcePath: "/data/frame1.jpg",
		SourceType: "image",
		Success:    true,
	})
	require.NoError(t, err)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Timestamp)
}

func TestQueryFilters(t *testing.T) {

	store := openTestStore(t)

	recs := []Record{
		{
			Timestamp: "2026-08-01T10:00:00Z", ModelPath: "/models/p.onnx",
			SourcePath: "/data/video.mp4", SourceType: "video", Success: true,
		},
		{
			Timestamp: "2026-08-02T10:00:00Z", ModelPath: "/models/alt.onnx",
			SourcePath: "/data/a.jpg", SourceType: "image", Success: true,
		},
		{
			Timestamp: "2026-08-03T10:00:00Z", ModelPath: "/models/p.onnx",
			SourcePath: "/data/b.jpg", SourceType: "image", Success: false,
			ErrorMessage: "decode failed",
		},
		{
			Timestamp: "2026-08-04T10:00:00Z", ModelPath: "/models/p.onnx",
			SourcePath: "/data/frames", SourceType: "folder", Success: true,
		},
	}

	for _, rec := range recs {
		_, err := store.Record(rec)
		require.NoError(t, err)
	}

	// unfiltered, newest first
	all, err := store.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "/data/frames", all[0].SourcePath)
	assert.Equal(t, "/data/video.mp4", all[3].SourcePath)

	// substring match on source path
	got, err := store.Query(Filter{SourceLike: "video"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "video", got[0].SourceType)

	// substring match on model path
	got, err = store.Query(Filter{SourceLike: "alt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/data/a.jpg", got[0].SourcePath)

	// timestamp range
	got, err = store.Query(Filter{
		Since: "2026-08-02T00:00:00Z",
		Until: "2026-08-03T23:59:59Z",
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// outcome
	got, err = store.Query(Filter{Success: boolPtr(false)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "decode failed", got[0].ErrorMessage)

	// limit keeps the newest
	got, err = store.Query(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/data/frames", got[0].SourcePath)

	got, err = store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDelete(t *testing.T) {

	store := openTestStore(t)

	id, err := store.Record(Record{
		ModelPath: "/models/p.onnx", SourcePath: "/data/a.jpg",
		SourceType: "image", Success: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(id))

	_, err = store.Get(id)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.ErrorIs(t, store.Delete(id), sql.ErrNoRows)
}

func TestClear(t *testing.T) {

	store := openTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.Record(Record{
			ModelPath: "/models/p.onnx", SourcePath: "/data/a.jpg",
			SourceType: "image", Success: true,
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.Clear())

	got, err := store.Query(Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := store.Aggregate(nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestAggregate(t *testing.T) {

	store := openTestStore(t)

	recs := []Record{
		{
			ModelPath: "/models/p.onnx", SourcePath: "/data/a.jpg",
			SourceType: "image", Success: true,
			InferenceTime: 10, NumDetections: 2,
		},
		{
			ModelPath: "/models/p.onnx", SourcePath: "/data/b.jpg",
			SourceType: "image", Success: true,
			InferenceTime: 20, NumDetections: 3,
		},
		{
			ModelPath: "/models/p.onnx", SourcePath: "/data/c.jpg",
			SourceType: "image", Success: false,
			ErrorMessage: "decode failed", InferenceTime: 99,
		},
	}

	for _, rec := range recs {
		_, err := store.Record(rec)
		require.NoError(t, err)
	}

	stats, err := store.Aggregate(nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 5, stats.TotalDetections)

	// average excludes the failed record
	assert.InDelta(t, 15.0, stats.AvgInferenceTime, 1e-9)

	stats, err = store.Aggregate(&Filter{Success: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.FailureCount)
}

func TestConcurrentRecord(t *testing.T) {

	store := openTestStore(t)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_, err := store.Record(Record{
				ModelPath:  "/models/p.onnx",
				SourcePath: fmt.Sprintf("/data/%d.jpg", n),
				SourceType: "image",
				Success:    true,
			})
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	got, err := store.Query(Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestOpenBadPath(t *testing.T) {

	_, err := Open(filepath.Join(t.TempDir(), "missing", "x.db"), nil)
	assert.ErrorIs(t, err, roadsense.ErrPersistence)
}
