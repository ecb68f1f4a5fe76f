package scoring

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// BackendTFLite names the TensorFlow Lite backend.
const BackendTFLite = "tflite"

// TFLiteModel scores feature vectors with a TensorFlow Lite model that takes a
// float32 [1,4] input in FeatureOrder and emits one probability.
type TFLiteModel struct {
	mu          sync.Mutex
	interpreter *tflite.Interpreter
	model       *tflite.Model
	options     *tflite.InterpreterOptions
}

// LoadTFLiteFile loads the model at path. threads <= 0 uses the CPU count.
func LoadTFLiteFile(path string, threads int) (*TFLiteModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("scoring").
			Category(errors.CategoryModelLoad).
			ModelContext(path, BackendTFLite).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("scoring").
			Category(errors.CategoryModelInit).
			ModelContext(path, BackendTFLite).
			Context("model_size_kb", len(data)/1024).
			Build()
	}

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("cannot create interpreter")).
			Component("scoring").
			Category(errors.CategoryModelInit).
			ModelContext(path, BackendTFLite).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("tensor allocation failed")).
			Component("scoring").
			Category(errors.CategoryModelInit).
			ModelContext(path, BackendTFLite).
			Build()
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || len(input.Float32s()) < len(FeatureOrder) {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("model input does not accept %d features", len(FeatureOrder))).
			Component("scoring").
			Category(errors.CategoryModelInit).
			ModelContext(path, BackendTFLite).
			Build()
	}

	return &TFLiteModel{interpreter: interpreter, model: model, options: options}, nil
}

// Score implements Scorer. The interpreter is not reentrant, so calls are serialized.
func (m *TFLiteModel) Score(x []float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return 0, ErrNotInitialized
	}

	input := m.interpreter.GetInputTensor(0)
	if input == nil {
		return 0, fmt.Errorf("cannot get input tensor")
	}
	float32s := input.Float32s()
	if len(float32s) < len(x) {
		return 0, fmt.Errorf("input tensor does not have enough capacity")
	}
	for i, v := range x {
		float32s[i] = float32(v)
	}

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return 0, fmt.Errorf("tensor invoke failed")
	}

	output := m.interpreter.GetOutputTensor(0)
	if output == nil {
		return 0, fmt.Errorf("cannot get output tensor")
	}
	out := output.Float32s()
	if len(out) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}
	// two-column outputs are [p(no churn), p(churn)]
	return float64(out[len(out)-1]), nil
}

// Backend implements Scorer.
func (m *TFLiteModel) Backend() string { return BackendTFLite }

// Close frees the interpreter.
func (m *TFLiteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.options.Delete()
		m.model.Delete()
		m.interpreter = nil
	}
	return nil
}
