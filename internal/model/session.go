package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Options control how a graph is opened.
type Options struct {
	SharedLibraryPath string
	IntraOpThreads    int
	// KeyPrefix is stripped from stored tensor names before binding.
	KeyPrefix string
	// OutputWidth, when set, must equal the graph's last output dimension.
	OutputWidth int
}

var (
	envMu   sync.Mutex
	envRefs int
)

// The onnxruntime environment is process-wide; every open Session holds a reference.
func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

// Session runs an ONNX graph. Every Run allocates its own tensors, so one
// Session serves concurrent callers without locking.
type Session struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
}

// OpenSession binds the graph at path according to meta and opts.
func OpenSession(path string, meta Metadata, opts Options) (*Session, error) {
	if err := acquireEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	s, err := openSession(path, meta, opts)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	return s, nil
}

func openSession(path string, meta Metadata, opts Options) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ONNX graph: %w", err)
	}

	inputName, err := ResolveName(infoNames(inputs), meta.InputName, opts.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("input binding: %w", err)
	}
	outputName, err := ResolveName(infoNames(outputs), meta.OutputName, opts.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("output binding: %w", err)
	}

	outputShape, err := reconcileOutputShape(outputs, outputName, meta.OutputShape, opts.OutputWidth)
	if err != nil {
		return nil, err
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputName}, []string{outputName}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:     session,
		inputShape:  ort.NewShape(meta.InputShape...),
		outputShape: ort.NewShape(outputShape...),
	}, nil
}

// reconcileOutputShape picks the shape of the bound output tensor from
// metadata, falling back to the graph, and checks it against width.
func reconcileOutputShape(outputs []ort.InputOutputInfo, name string, declared []int64, width int) ([]int64, error) {
	shape := append([]int64(nil), declared...)

	for _, info := range outputs {
		if info.Name != name {
			continue
		}
		dims := info.Dimensions
		if len(dims) == 0 {
			break
		}
		if last := dims[len(dims)-1]; last > 0 && width > 0 && int(last) != width {
			return nil, fmt.Errorf("graph output %q has %d classes, expected %d", name, last, width)
		}
		if len(shape) == 0 {
			shape = append([]int64{1}, dims[1:]...)
		}
	}

	if len(shape) == 0 {
		if width <= 0 {
			return nil, fmt.Errorf("output shape of %q is unknown", name)
		}
		shape = []int64{1, int64(width)}
	}
	// A dynamic class dimension takes the configured width.
	if last := len(shape) - 1; shape[last] <= 0 && width > 0 {
		shape[last] = int64(width)
	}
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("output shape %v of %q has unresolved dimensions", shape, name)
		}
	}
	if width > 0 && shape[len(shape)-1] != int64(width) {
		return nil, fmt.Errorf("output shape %v does not end in %d classes", shape, width)
	}
	return shape, nil
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Run executes one forward pass and returns a copy of the output.
func (s *Session) Run(input []float32) ([]float32, error) {
	if int64(len(input)) != s.inputShape.FlattenedSize() {
		return nil, fmt.Errorf("expected %d input values, got %d", s.inputShape.FlattenedSize(), len(input))
	}

	inputTensor, err := ort.NewTensor(s.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	releaseEnvironment()
	return err
}
