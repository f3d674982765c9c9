package roadsense

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device targets the execution provider a model session runs on
type Device int

const (
	// DeviceAuto probes for the CUDA execution provider and falls back to
	// CPU when it is unavailable
	DeviceAuto Device = iota
	// DeviceCPU forces CPU execution
	DeviceCPU
	// DeviceCUDA requires the CUDA execution provider and fails when it
	// cannot be registered
	DeviceCUDA
)

// String returns a readable name of the device
func (d Device) String() string {
	switch d {
	case DeviceAuto:
		return "auto"
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("unknown device %d", d)
	}
}

// ParseDevice converts a device name to a Device value
func ParseDevice(s string) (Device, error) {
	switch s {
	case "", "auto":
		return DeviceAuto, nil
	case "cpu":
		return DeviceCPU, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	default:
		return DeviceAuto, fmt.Errorf("invalid device name %q", s)
	}
}

// RuntimeOptions defines how a model session is created.  Input and output
// names plus the fixed tensor geometry come from the model's exported
// contract.
type RuntimeOptions struct {
	// Device selects the execution provider
	Device Device
	// LibraryPath optionally points at the onnxruntime shared library to
	// load.  Leave empty to use the platform default search path.
	LibraryPath string
	// InputName is the name of the model's input tensor
	InputName string
	// OutputNames are the model's output tensor names in declared order
	OutputNames []string
	// InputShape is the NCHW shape of the input tensor
	InputShape []int64
	// OutputShapes are the fixed shapes of each output tensor, index
	// aligned with OutputNames
	OutputShapes [][]int64
	// IntraOpThreads caps the intra-op thread count, 0 uses the host CPU
	// count
	IntraOpThreads int
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initEnvironment initializes the shared ONNX Runtime environment.  It runs
// once per process, later callers observe the first result.  The environment
// is never destroyed, sessions may outlive any single Runtime.
func initEnvironment(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})

	return ortInitErr
}

// Runtime defines an inference runtime instance holding one loaded model
// session
type Runtime struct {
	// session is the loaded ONNX Runtime session
	session *ort.DynamicAdvancedSession
	// modelFile is the path the session was loaded from
	modelFile string
	// device is the execution provider the session ended up on
	device Device
	// inputShape caches the input tensor geometry
	inputShape ort.Shape
	// outputShapes caches the fixed output tensor geometry
	outputShapes []ort.Shape
}

// NewRuntime returns a runtime instance for the given model.  Provide the
// full path and filename of the ONNX model file to run.
func NewRuntime(modelFile string, opts RuntimeOptions) (*Runtime, error) {

	// check file exists before handing it to the session loader
	info, err := os.Stat(modelFile)

	if err != nil {
		return nil, fmt.Errorf("%w: model file does not exist at %s: %w",
			ErrModelNotLoaded, modelFile, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: model file %s is a directory",
			ErrModelNotLoaded, modelFile)
	}

	if len(opts.OutputNames) == 0 || len(opts.OutputNames) != len(opts.OutputShapes) {
		return nil, fmt.Errorf("output names and shapes must be provided and "+
			"of equal length, got %d names and %d shapes",
			len(opts.OutputNames), len(opts.OutputShapes))
	}

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime environment: %w",
			ErrModelNotLoaded, err)
	}

	sessOpts, err := ort.NewSessionOptions()

	if err != nil {
		return nil, fmt.Errorf("%w: session options: %w", ErrModelNotLoaded, err)
	}

	defer sessOpts.Destroy()

	threads := opts.IntraOpThreads

	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	// best effort tuning, a refused option is not fatal
	_ = sessOpts.SetIntraOpNumThreads(threads)
	_ = sessOpts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	device, err := selectDevice(sessOpts, opts.Device)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelNotLoaded, modelFile, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelFile,
		[]string{opts.InputName}, opts.OutputNames, sessOpts)

	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", ErrModelNotLoaded,
			modelFile, err)
	}

	r := &Runtime{
		session:      session,
		modelFile:    modelFile,
		device:       device,
		inputShape:   ort.NewShape(opts.InputShape...),
		outputShapes: make([]ort.Shape, len(opts.OutputShapes)),
	}

	for i, dims := range opts.OutputShapes {
		r.outputShapes[i] = ort.NewShape(dims...)
	}

	return r, nil
}

// selectDevice registers the execution provider for the requested device on
// the session options and reports the device actually selected
func selectDevice(sessOpts *ort.SessionOptions, want Device) (Device, error) {

	switch want {
	case DeviceCPU:
		return DeviceCPU, nil

	case DeviceCUDA:
		if err := appendCUDA(sessOpts); err != nil {
			return DeviceCPU, fmt.Errorf("cuda provider: %w", err)
		}
		return DeviceCUDA, nil

	case DeviceAuto:
		if err := appendCUDA(sessOpts); err != nil {
			// fall back to cpu
			return DeviceCPU, nil
		}
		return DeviceCUDA, nil
	}

	return DeviceCPU, fmt.Errorf("invalid device %d", want)
}

// appendCUDA tries to register the CUDA execution provider on the session
// options
func appendCUDA(sessOpts *ort.SessionOptions) error {

	cudaOpts, err := ort.NewCUDAProviderOptions()

	if err != nil {
		return err
	}

	defer cudaOpts.Destroy()

	err = cudaOpts.Update(map[string]string{"device_id": "0"})

	if err != nil {
		return err
	}

	return sessOpts.AppendExecutionProviderCUDA(cudaOpts)
}

// ModelFile returns the path the model session was loaded from
func (r *Runtime) ModelFile() string {
	return r.modelFile
}

// Device returns the execution provider the session runs on
func (r *Runtime) Device() Device {
	return r.device
}

// Close destroys the session releasing its native resources
func (r *Runtime) Close() error {

	if r.session == nil {
		return nil
	}

	err := r.session.Destroy()
	r.session = nil

	if err != nil {
		return fmt.Errorf("destroying session for %s: %w", r.modelFile, err)
	}

	return nil
}
