package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense"
	"github.com/swdee/go-roadsense/registry"
)

func TestNewWorkerValidation(t *testing.T) {
	reg := registry.NewRegistry()

	_, err := NewWorker(nil, nil, reg, Config{}, nil)
	assert.ErrorIs(t, err, roadsense.ErrModelNotLoaded)

	_, err = NewWorker(&roadsense.Pool{}, nil, nil, Config{}, nil)
	assert.ErrorContains(t, err, "registry")

	_, err = NewWorker(&roadsense.Pool{}, nil, reg, Config{Workers: -1}, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestInferRejectsEmptyFrame(t *testing.T) {
	w := newStubWorker(t, Config{}, nil)

	frame := gocv.NewMat()
	defer frame.Close()

	_, err := w.Infer(context.Background(), frame, "cam0")
	assert.ErrorIs(t, err, roadsense.ErrInvalidFrame)
	assert.ErrorContains(t, err, "cam0")
}

func TestInferHonorsCancelledContext(t *testing.T) {
	w := newStubWorker(t, Config{}, nil)

	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Infer(ctx, frame, "cam0")
	assert.ErrorIs(t, err, context.Canceled)
}
