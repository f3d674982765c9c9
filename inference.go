package roadsense

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Output holds a single output tensor of an inference pass
type Output struct {
	// Index is the output index in the model's declared order
	Index int
	// BufFloat is the tensor data.  The slice views native memory owned by
	// the session run and becomes invalid once Outputs.Free is called.
	BufFloat []float32
	// Dims is the tensor shape
	Dims []int64
}

// Outputs contains the output tensors of one inference pass.  Callers must
// copy out any data they keep and then release the native memory with Free.
type Outputs struct {
	Output []Output
	// input tensor backing the run
	input *ort.Tensor[float32]
	// tensors backing each Output
	tensors []*ort.Tensor[float32]
	// freed indicates the native tensors have been released
	freed bool
	sync.Mutex
	// runtime instance the outputs came from
	rt *Runtime
}

// Inference runs the model forward pass on the given input tensor data.  The
// input must be the flattened NCHW float32 buffer matching the runtime's
// input shape, as produced by preprocess.Resizer.Tensor.
func (r *Runtime) Inference(input []float32) (*Outputs, error) {

	if r.session == nil {
		return nil, fmt.Errorf("%w: session closed for %s", ErrModelNotLoaded,
			r.modelFile)
	}

	inTensor, err := ort.NewTensor(r.inputShape, input)

	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outTensors := make([]*ort.Tensor[float32], len(r.outputShapes))
	outValues := make([]ort.Value, len(r.outputShapes))

	destroyAll := func() {
		_ = inTensor.Destroy()
		for _, t := range outTensors {
			if t != nil {
				_ = t.Destroy()
			}
		}
	}

	for i, shape := range r.outputShapes {
		t, err := ort.NewEmptyTensor[float32](shape)

		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("error creating output tensor %d: %w", i, err)
		}

		outTensors[i] = t
		outValues[i] = t
	}

	err = r.session.Run([]ort.Value{inTensor}, outValues)

	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("error running model: %w", err)
	}

	outs := &Outputs{
		Output:  make([]Output, len(outTensors)),
		input:   inTensor,
		tensors: outTensors,
		rt:      r,
	}

	for i, t := range outTensors {
		outs.Output[i] = Output{
			Index:    i,
			BufFloat: t.GetData(),
			Dims:     r.outputShapes[i],
		}
	}

	return outs, nil
}

// Free releases the native tensor memory backing the outputs
func (o *Outputs) Free() error {

	o.Lock()
	defer o.Unlock()

	if o.freed {
		// native memory already released
		return nil
	}

	o.freed = true

	var firstErr error

	if o.input != nil {
		firstErr = o.input.Destroy()
	}

	for _, t := range o.tensors {
		if err := t.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("releasing output tensors: %w", firstErr)
	}

	return nil
}

// InputAttribute of the loaded model input tensor
type InputAttribute struct {
	Width   int
	Height  int
	Channel int
}

// InputAttributes returns the model input image dimensions.  The input shape
// is NCHW.
func (o *Outputs) InputAttributes() InputAttribute {

	attr := InputAttribute{}

	if len(o.rt.inputShape) == 4 {
		attr.Channel = int(o.rt.inputShape[1])
		attr.Height = int(o.rt.inputShape[2])
		attr.Width = int(o.rt.inputShape[3])
	}

	return attr
}
